package scanapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RoundOfLatestData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/round-of-latest-data", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]int{"round": 42})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	resp, err := c.RoundOfLatestData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", string(resp.Round))
}

func TestClient_GetUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/updates", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("before"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"updates": []json.RawMessage{json.RawMessage(`{"transaction":{}}`)},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	page, err := c.GetUpdates(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Len(t, page.Envelopes(), 1)
}

func TestClient_PostUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body PostUpdatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cursor-1", body.BeginAfter)
		_ = json.NewEncoder(w).Encode(UpdatesPage{})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.PostUpdates(context.Background(), "cursor-1", 50)
	require.NoError(t, err)
}

func TestClient_ErrorStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.RoundOfLatestData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestParseInsecureTLS(t *testing.T) {
	assert.True(t, ParseInsecureTLS("true"))
	assert.False(t, ParseInsecureTLS("True"))
	assert.False(t, ParseInsecureTLS("1"))
	assert.False(t, ParseInsecureTLS(""))
}

func TestClient_ACSEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/state/acs/snapshot-timestamp":
			_ = json.NewEncoder(w).Encode(ACSSnapshotTimestampResponse{RecordTime: "2024-01-01T00:00:00Z"})
		case "/v0/state/acs":
			_ = json.NewEncoder(w).Encode(ACSPage{Items: []json.RawMessage{json.RawMessage(`{}`)}})
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	ts, err := c.ACSSnapshotTimestamp(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", ts.RecordTime)

	page, err := c.ACSPage(context.Background(), time.Now(), 0, 100, "")
	require.NoError(t, err)
	assert.Len(t, page.Entries(), 1)
}
