package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/tidwatch/internal/config"
	"github.com/loykin/tidwatch/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	starts   atomic.Int32
	closes   atomic.Int32
	restarts atomic.Int32

	startErr   error
	restartErr error
}

func (f *fakeSupervisor) Start() error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeSupervisor) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeSupervisor) Restart() error {
	f.restarts.Add(1)
	return f.restartErr
}

func (f *fakeSupervisor) Status() process.Status {
	return process.Status{Name: "tiddlywiki", Restarts: int(f.restarts.Load())}
}

func (f *fakeSupervisor) URL() string { return "http://127.0.0.1:8080" }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func newWiki(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.MarkerFile), []byte("{}"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, config.TiddlersDir), 0o750))
	return root
}

func testConfig(root string) config.RunConfig {
	return config.RunConfig{
		WikiDir:  root,
		Host:     "127.0.0.1",
		Port:     8080,
		Debounce: 50 * time.Millisecond,
		Command:  "tiddlywiki",
		Suffix:   ".tid",
	}
}

// runAsync starts Run and returns a channel carrying its result.
func runAsync(c *Controller, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "initializing", Initializing.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestServerPID(t *testing.T) {
	log, _ := testLogger()
	c := newController(testConfig(t.TempDir()), &fakeSupervisor{}, log)
	assert.Zero(t, c.ServerPID())
}

func TestShutdownRunsOnce(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{}
	c := newController(testConfig(t.TempDir()), sup, log)
	assert.Equal(t, Initializing, c.State())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, sup.closes.Load())
	assert.Equal(t, Stopped, c.State())
}

func TestRunMissingWikiDir(t *testing.T) {
	log, buf := testLogger()
	sup := &fakeSupervisor{}
	c := newController(testConfig(filepath.Join(t.TempDir(), "nope")), sup, log)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrWikiDirNotFound)
	assert.Zero(t, sup.starts.Load())
	assert.Equal(t, Stopped, c.State())
	assert.Contains(t, buf.String(), "wiki directory does not exist")
}

func TestRunWarnsWithoutMarker(t *testing.T) {
	log, buf := testLogger()
	sup := &fakeSupervisor{}
	c := newController(testConfig(t.TempDir()), sup, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(c, ctx)
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, waitResult(t, errCh))
	assert.Contains(t, buf.String(), "no tiddlywiki.info found")
}

func TestRunCancelTearsDown(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{}
	c := newController(testConfig(newWiki(t)), sup, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(c, ctx)
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, sup.starts.Load())

	cancel()
	require.NoError(t, waitResult(t, errCh))
	assert.EqualValues(t, 1, sup.closes.Load())
	assert.Equal(t, Stopped, c.State())

	// a late Shutdown does not stop twice
	c.Shutdown()
	assert.EqualValues(t, 1, sup.closes.Load())
}

func TestRunFatalStart(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{startErr: fmt.Errorf("%w: %q", process.ErrCommandNotFound, "tiddlywiki")}
	c := newController(testConfig(newWiki(t)), sup, log)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, process.ErrCommandNotFound)
	assert.EqualValues(t, 1, sup.closes.Load())
	assert.Equal(t, Stopped, c.State())
}

func TestRunSurvivesStartupFailure(t *testing.T) {
	log, buf := testLogger()
	sup := &fakeSupervisor{startErr: process.ErrStartupFailed}
	c := newController(testConfig(newWiki(t)), sup, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(c, ctx)
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, waitResult(t, errCh))
	assert.Contains(t, buf.String(), "initial start failed")
}

func TestRunRestartsOnTiddlerChange(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{}
	root := newWiki(t)
	c := newController(testConfig(root), sup, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := runAsync(c, ctx)
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)

	tiddlers := filepath.Join(root, config.TiddlersDir)
	require.NoError(t, os.WriteFile(filepath.Join(tiddlers, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "outside.tid"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, sup.restarts.Load())

	require.NoError(t, os.WriteFile(filepath.Join(tiddlers, "Hello.tid"), []byte("title: Hello\n"), 0o600))
	require.Eventually(t, func() bool { return sup.restarts.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitResult(t, errCh))
}

func TestRunFatalRestartEndsRun(t *testing.T) {
	log, _ := testLogger()
	boom := errors.New("cannot exec")
	sup := &fakeSupervisor{restartErr: boom}
	root := newWiki(t)
	c := newController(testConfig(root), sup, log)

	errCh := runAsync(c, context.Background())
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, config.TiddlersDir, "a.tid"), []byte("x"), 0o600))

	err := waitResult(t, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, sup.closes.Load())
	assert.Equal(t, Stopped, c.State())
}

func TestControlEndpoint(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{}
	cfg := testConfig(newWiki(t))
	cfg.ControlListen = "127.0.0.1:0"
	c := newController(cfg, sup, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(c, ctx)
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)
	addr := c.ControlAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Post("http://"+addr+"/restart", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, sup.restarts.Load())

	resp, err = http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	_ = resp.Body.Close()
	assert.EqualValues(t, 1, got["restarts"])

	cancel()
	require.NoError(t, waitResult(t, errCh))
	_, err = http.Get("http://" + addr + "/status")
	assert.Error(t, err)
}

func TestControlEndpointFatalRestartEndsRun(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{restartErr: process.ErrCommandNotFound}
	cfg := testConfig(newWiki(t))
	cfg.ControlListen = "127.0.0.1:0"
	c := newController(cfg, sup, log)

	errCh := runAsync(c, context.Background())
	require.Eventually(t, func() bool { return c.State() == Running }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+c.ControlAddr()+"/restart", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	assert.ErrorIs(t, waitResult(t, errCh), process.ErrCommandNotFound)
}

func TestRunControlListenError(t *testing.T) {
	log, _ := testLogger()
	sup := &fakeSupervisor{}
	cfg := testConfig(newWiki(t))
	cfg.ControlListen = "256.0.0.1:bad"
	c := newController(cfg, sup, log)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control endpoint listen")
	assert.EqualValues(t, 1, sup.closes.Load())
}
