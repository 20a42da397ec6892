// Package lifecycle wires the supervisor, the file watcher and the optional
// control endpoint together and owns startup and shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/loykin/tidwatch/internal/config"
	"github.com/loykin/tidwatch/internal/debounce"
	"github.com/loykin/tidwatch/internal/process"
	"github.com/loykin/tidwatch/internal/server"
	"github.com/loykin/tidwatch/internal/supervisor"
	"github.com/loykin/tidwatch/internal/watcher"
	"golang.org/x/sync/errgroup"
)

// State is the controller phase.
type State int32

const (
	Initializing State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Supervisor is the process side of the controller.
type Supervisor interface {
	Start() error
	Restart() error
	Close() error
	Status() process.Status
	URL() string
}

// Controller runs one watch session from setup to teardown.
type Controller struct {
	cfg   config.RunConfig
	sup   Supervisor
	log   *slog.Logger
	state atomic.Int32

	mu  sync.Mutex // guards src, srv and ln
	src *watcher.Source
	srv *http.Server
	ln  net.Listener

	fatal    chan error
	shutdown sync.Once
}

// New builds a controller that supervises the server described by cfg.
func New(cfg config.RunConfig, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	sup := supervisor.New(cfg.ProcessSpec(), cfg.SupervisorOptions(), log)
	return newController(cfg, sup, log)
}

func newController(cfg config.RunConfig, sup Supervisor, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, sup: sup, log: log, fatal: make(chan error, 1)}
}

// State returns the current phase.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// ServerPID returns the PID of the running server, or 0.
func (c *Controller) ServerPID() int {
	st := c.sup.Status()
	if !st.Running {
		return 0
	}
	return st.PID
}

// ControlAddr returns the bound control endpoint address, or "" if disabled.
func (c *Controller) ControlAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Run starts the server and watches for changes until SIGINT/SIGTERM, ctx
// cancellation or an unrecoverable error. Teardown has completed when Run
// returns. A signal or cancelled ctx yields nil.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			c.log.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	coord, err := c.setup()
	if err != nil {
		c.Shutdown()
		return err
	}
	c.setState(Running)

	c.mu.Lock()
	src, srv, ln := c.src, c.srv, c.ln
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := src.Run(gctx, coord.Handle); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control endpoint: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case err := <-c.fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	<-gctx.Done()
	c.Shutdown()
	if err := g.Wait(); err != nil {
		c.log.Error("shut down after unrecoverable error", "error", err)
		return err
	}
	return nil
}

func (c *Controller) setup() (*watcher.Coordinator, error) {
	root := c.cfg.WikiDir
	if err := config.CheckWikiDir(root); err != nil {
		c.log.Error("wiki directory does not exist", "dir", root)
		return nil, err
	}
	if !config.HasMarker(root) {
		c.log.Warn("no "+config.MarkerFile+" found, this may not be a TiddlyWiki folder", "dir", root)
	}

	if err := c.sup.Start(); err != nil {
		if supervisor.IsFatal(err) {
			return nil, err
		}
		c.log.Warn("initial start failed, waiting for changes", "error", err)
	}

	target := config.ResolveWatchTarget(root)
	src, err := watcher.NewSource(target.Dir, c.log)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()

	if c.cfg.ControlListen != "" {
		ln, err := net.Listen("tcp", c.cfg.ControlListen)
		if err != nil {
			return nil, fmt.Errorf("control endpoint listen %s: %w", c.cfg.ControlListen, err)
		}
		srv := server.NewServer(c.cfg.ControlListen, "", controlTarget{c})
		c.mu.Lock()
		c.ln, c.srv = ln, srv
		c.mu.Unlock()
		c.log.Info("control endpoint listening", "addr", ln.Addr().String())
	}

	deb := debounce.New(c.cfg.Debounce)
	c.log.Info("watching for changes", "dir", target.Dir, "suffix", c.cfg.Suffix, "debounce", deb.Interval())
	c.log.Info("wiki available", "url", c.sup.URL())
	return watcher.NewCoordinator(c.cfg.Suffix, deb, c.sup, c.log), nil
}

// Shutdown stops the watcher, the server process and the control endpoint.
// The supervisor is closed, so a restart still queued from the watcher or
// the control endpoint cannot start a new child afterwards. Only the first
// call does the work; later calls wait for it to finish.
func (c *Controller) Shutdown() {
	c.shutdown.Do(func() {
		c.setState(ShuttingDown)
		c.log.Info("shutting down")

		c.mu.Lock()
		src, srv, ln := c.src, c.srv, c.ln
		c.mu.Unlock()

		if src != nil {
			if err := src.Close(); err != nil {
				c.log.Warn("closing watcher", "error", err)
			}
		}
		if err := c.sup.Close(); err != nil {
			c.log.Error("stopping server during shutdown", "error", err)
		}
		if srv != nil {
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		c.setState(Stopped)
		c.log.Info("shutdown complete")
	})
}

// controlTarget routes restarts from the control endpoint through the
// controller so an unrecoverable error ends the run.
type controlTarget struct{ c *Controller }

func (t controlTarget) Status() process.Status { return t.c.sup.Status() }
func (t controlTarget) URL() string             { return t.c.sup.URL() }

func (t controlTarget) Restart() error {
	err := t.c.sup.Restart()
	if supervisor.IsFatal(err) {
		select {
		case t.c.fatal <- err:
		default:
		}
	}
	return err
}
