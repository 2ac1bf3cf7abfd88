package selfreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFiresOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aipair-server")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	require.NoError(t, Watch(ctx, path, nil, func() { fired <- struct{}{} }))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2 is a longer binary body"), 0o755))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onReplace was not called after binary rewrite")
	}
}

func TestModTimeMissingFileIsZero(t *testing.T) {
	assert.True(t, modTime(filepath.Join(t.TempDir(), "missing")).IsZero())
}
