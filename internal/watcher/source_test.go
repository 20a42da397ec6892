package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSource(t *testing.T, root string) (*Source, <-chan Event, <-chan error) {
	t.Helper()
	src, err := NewSource(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	events := make(chan Event, 64)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(context.Background(), func(e Event) error {
			events <- e
			return nil
		})
	}()
	t.Cleanup(func() { _ = src.Close() })
	return src, events, done
}

// waitFor drains events until one matches.
func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
			return Event{}
		}
	}
}

func TestSourceReportsFileLifecycle(t *testing.T) {
	root := t.TempDir()
	_, events, _ := startSource(t, root)
	path := filepath.Join(root, "Home.tid")

	require.NoError(t, os.WriteFile(path, []byte("title: Home\n"), 0o600))
	e := waitFor(t, events, func(e Event) bool { return e.Path == path && e.Kind == Created })
	assert.False(t, e.IsDir)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("\ntext")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	waitFor(t, events, func(e Event) bool { return e.Path == path && e.Kind == Modified })

	require.NoError(t, os.Remove(path))
	e = waitFor(t, events, func(e Event) bool { return e.Path == path && e.Kind == Deleted })
	assert.False(t, e.IsDir)
}

func TestSourceWatchesExistingSubdirectories(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "system", "nested")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	_, events, _ := startSource(t, root)

	path := filepath.Join(sub, "Deep.tid")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	waitFor(t, events, func(e Event) bool { return e.Path == path && e.Kind == Created })
}

func TestSourceFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, events, _ := startSource(t, root)

	dir := filepath.Join(root, "drafts")
	require.NoError(t, os.Mkdir(dir, 0o750))
	e := waitFor(t, events, func(e Event) bool { return e.Path == dir })
	assert.True(t, e.IsDir)
	assert.Equal(t, Created, e.Kind)

	path := filepath.Join(dir, "Draft.tid")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	waitFor(t, events, func(e Event) bool { return e.Path == path && e.Kind == Created })

	require.NoError(t, os.RemoveAll(dir))
	e = waitFor(t, events, func(e Event) bool { return e.Path == dir && e.Kind == Deleted })
	assert.True(t, e.IsDir)
}

func TestSourceCloseEndsRun(t *testing.T) {
	src, _, done := startSource(t, t.TempDir())
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestSourceRunStopsOnSinkError(t *testing.T) {
	root := t.TempDir()
	src, err := NewSource(root, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	boom := assert.AnError
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), func(Event) error { return boom }) }()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.tid"), nil, 0o600))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return sink error")
	}
}

func TestNewSourceMissingRoot(t *testing.T) {
	_, err := NewSource(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}
