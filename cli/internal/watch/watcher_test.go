package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/picost/internal/logger"
)

func TestNewMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), time.Millisecond)
	assert.Error(t, err)
}

func TestIsSessionLog(t *testing.T) {
	assert.True(t, isSessionLog("/a/b.jsonl"))
	assert.False(t, isSessionLog("/a/b.json"))
	assert.False(t, isSessionLog("/a/b.jsonl.tmp"))
}

func TestRunReportsDebouncedChanges(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(logger.NopContext())
	defer cancel()

	changes := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(path string) { changes <- path })
	}()

	path := filepath.Join(root, "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"b":2}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))

	select {
	case got := <-changes:
		assert.Equal(t, path, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
