// Package scanapi is a thin HTTP/JSON client for the remote Scan service.
// The spec treats HTTP client details as an opaque external collaborator;
// this package exists only to the extent needed to express the five
// endpoints named in spec §6, using the standard library's net/http
// rather than a third-party HTTP client (the example pack does not
// standardize on one either).
package scanapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to one Scan API base URL. Each Client owns its own
// http.Client and TLS config — the spec forbids a process-wide TLS
// toggle (§4.7, §9), so InsecureSkipVerify is set per client, never
// globally.
type Client struct {
	baseURL string
	http    *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // default 30s, per spec §6 API_TIMEOUT_MS default
	InsecureTLS bool          // only the exact string "true" should map to this field
}

// NewClient constructs a Client with its own *http.Client and *http.Transport,
// so InsecureSkipVerify never leaks to any other client in the process.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, //nolint:gosec // explicit per-client opt-in, spec §4.7
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

// ParseInsecureTLS implements the spec's exact-match rule: only the
// lowercase string "true" disables verification; anything else enforces it.
func ParseInsecureTLS(value string) bool {
	return value == "true"
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// RoundOfLatestDataResponse mirrors GET /v0/round-of-latest-data.
type RoundOfLatestDataResponse struct {
	Round json.RawMessage `json:"round"` // int or string per spec §6
}

func (c *Client) RoundOfLatestData(ctx context.Context) (RoundOfLatestDataResponse, error) {
	var resp RoundOfLatestDataResponse
	err := c.get(ctx, "/v0/round-of-latest-data", nil, &resp)
	return resp, err
}

// UpdatesPage is the shape shared by the GET and POST updates endpoints.
// The spec names three possible envelope array keys; all are accepted.
type UpdatesPage struct {
	Updates      []json.RawMessage `json:"updates,omitempty"`
	Items        []json.RawMessage `json:"items,omitempty"`
	Transactions []json.RawMessage `json:"transactions,omitempty"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

// Envelopes returns whichever of the three array keys was populated.
func (p UpdatesPage) Envelopes() []json.RawMessage {
	switch {
	case len(p.Updates) > 0:
		return p.Updates
	case len(p.Items) > 0:
		return p.Items
	default:
		return p.Transactions
	}
}

// GetUpdates implements GET /v0/updates?before=ISO8601&page_size=N, used
// by the backfill engine walking backward in time.
func (c *Client) GetUpdates(ctx context.Context, before time.Time, pageSize int) (UpdatesPage, error) {
	var page UpdatesPage
	query := url.Values{
		"before":    {before.UTC().Format(time.RFC3339Nano)},
		"page_size": {fmt.Sprintf("%d", pageSize)},
	}
	err := c.get(ctx, "/v0/updates", query, &page)
	return page, err
}

// PostUpdatesRequest is the body of POST /v2/updates, used by the live
// engine polling forward in time.
type PostUpdatesRequest struct {
	BeginAfter string `json:"begin_after"`
	PageSize   int    `json:"page_size"`
}

func (c *Client) PostUpdates(ctx context.Context, beginAfter string, pageSize int) (UpdatesPage, error) {
	var page UpdatesPage
	err := c.post(ctx, "/v2/updates", PostUpdatesRequest{BeginAfter: beginAfter, PageSize: pageSize}, &page)
	return page, err
}

// ACSSnapshotTimestampResponse mirrors GET /v0/state/acs/snapshot-timestamp.
type ACSSnapshotTimestampResponse struct {
	RecordTime string `json:"record_time"`
}

func (c *Client) ACSSnapshotTimestamp(ctx context.Context, before time.Time, migrationID int64) (ACSSnapshotTimestampResponse, error) {
	var resp ACSSnapshotTimestampResponse
	query := url.Values{
		"before":       {before.UTC().Format(time.RFC3339Nano)},
		"migration_id": {fmt.Sprintf("%d", migrationID)},
	}
	err := c.get(ctx, "/v0/state/acs/snapshot-timestamp", query, &resp)
	return resp, err
}

// ACSPage mirrors GET /v0/state/acs, accepting any of the three array keys
// the spec names for contract entries.
type ACSPage struct {
	Items         []json.RawMessage `json:"items,omitempty"`
	Contracts     []json.RawMessage `json:"contracts,omitempty"`
	CreatedEvents []json.RawMessage `json:"created_events,omitempty"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (p ACSPage) Entries() []json.RawMessage {
	switch {
	case len(p.Items) > 0:
		return p.Items
	case len(p.Contracts) > 0:
		return p.Contracts
	default:
		return p.CreatedEvents
	}
}

func (c *Client) ACSPage(ctx context.Context, recordTime time.Time, migrationID int64, pageSize int, pageToken string) (ACSPage, error) {
	var page ACSPage
	query := url.Values{
		"record_time":  {recordTime.UTC().Format(time.RFC3339Nano)},
		"migration_id": {fmt.Sprintf("%d", migrationID)},
		"page_size":    {fmt.Sprintf("%d", pageSize)},
	}
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	err := c.get(ctx, "/v0/state/acs", query, &page)
	return page, err
}
