package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/scanarchiver/pkg/objectstore"
)

// Scenario E from the spec's end-to-end scenarios.
func TestVerifyIntegrity_ScenarioE_Mismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(local, []byte("local-bytes"), 0o644))

	store := objectstore.NewMemoryStore()
	other := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(other, []byte("different-bytes"), 0o644))
	require.NoError(t, store.Put(ctx, other, "remote/key"))

	result := VerifyIntegrity(ctx, store, local, "remote/key")
	assert.False(t, result.OK)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "Hash mismatch")
}

func TestVerifyIntegrity_MatchSucceeds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(local, []byte("same-bytes"), 0o644))

	store := objectstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, local, "remote/key"))

	result := VerifyIntegrity(ctx, store, local, "remote/key")
	assert.True(t, result.OK)
	assert.Equal(t, result.LocalMD5, result.RemoteMD5)
}

func TestVerifyIntegrity_MissingLocalFile(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	result := VerifyIntegrity(ctx, store, "/nonexistent/path", "remote/key")
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "LocalFileMissing")
}

func TestVerifyIntegrity_HeadFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	store := objectstore.NewMemoryStore()
	result := VerifyIntegrity(ctx, store, local, "never/uploaded")
	require.Error(t, result.Err)
	assert.Equal(t, "Could not retrieve GCS object hash", result.Err.Error())
}
