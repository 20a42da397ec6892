package supervisor

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/tidwatch/internal/metrics"
	"github.com/loykin/tidwatch/internal/process"
)

// Default timings.
const (
	DefaultStartGrace  = 2 * time.Second
	DefaultStopTimeout = 5 * time.Second
	DefaultSettleDelay = 500 * time.Millisecond
)

// ErrClosed is returned by Start and Restart once Close has been called.
var ErrClosed = errors.New("supervisor closed")

// Options tunes the supervisor timings. Zero values fall back to defaults.
type Options struct {
	StartGrace  time.Duration // how long a fresh child must stay up
	StopTimeout time.Duration // SIGTERM wait before SIGKILL
	SettleDelay time.Duration // pause between stop and start on restart
}

func (o Options) withDefaults() Options {
	if o.StartGrace <= 0 {
		o.StartGrace = DefaultStartGrace
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	return o
}

// Supervisor owns at most one running server process.
//
// opMu serializes Start, Stop, Restart and Close for their whole duration,
// so a restart can never interleave with another operation and two children
// are never spawned concurrently. closed is guarded by opMu. stateMu only
// guards the fields read by Status.
type Supervisor struct {
	opMu   sync.Mutex
	closed bool

	stateMu  sync.RWMutex
	proc     *process.Process
	last     process.Status
	restarts int

	spec process.Spec
	opts Options
	log  *slog.Logger
}

func New(spec process.Spec, opts Options, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if spec.Name == "" {
		spec.Name = process.DefaultCommand
	}
	return &Supervisor{spec: spec, opts: opts.withDefaults(), log: log}
}

// IsFatal reports whether an error returned by Start or Restart should end
// the program. A child that dies inside the grace window is recoverable, and
// ErrClosed only means shutdown is already under way.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, process.ErrStartupFailed) && !errors.Is(err, ErrClosed)
}

// Start launches the server unless one is already running.
func (s *Supervisor) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.startLocked()
}

// Stop terminates the running server. It is a no-op when nothing runs.
func (s *Supervisor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked()
}

// Close stops the server and rejects every later Start and Restart. A
// restart queued behind Close therefore cannot spawn a new child.
func (s *Supervisor) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.closed = true
	return s.stopLocked()
}

// Restart stops the server, waits for the settle delay and starts it again.
// A failed start leaves the supervisor with no process; nothing retries.
func (s *Supervisor) Restart() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		s.log.Debug("restart ignored, shutting down")
		return ErrClosed
	}

	s.log.Info("restarting server")
	if err := s.stopLocked(); err != nil {
		s.log.Warn("continuing restart after stop error", "error", err)
	}
	if s.opts.SettleDelay > 0 {
		time.Sleep(s.opts.SettleDelay)
	}
	s.stateMu.Lock()
	s.restarts++
	s.stateMu.Unlock()
	metrics.IncRestart(s.spec.Name)
	return s.startLocked()
}

// Status returns the current child status, or the last known one when no
// child is running. It does not wait for in-flight operations.
func (s *Supervisor) Status() process.Status {
	s.stateMu.RLock()
	p, st, restarts := s.proc, s.last, s.restarts
	s.stateMu.RUnlock()
	if p != nil {
		st = p.Snapshot()
		st.Running = p.Alive()
	}
	st.Name = s.spec.Name
	st.Restarts = restarts
	return st
}

// Running reports whether a live child is recorded.
func (s *Supervisor) Running() bool {
	s.stateMu.RLock()
	p := s.proc
	s.stateMu.RUnlock()
	return p != nil && p.Alive()
}

// URL is the address the server is launched to listen on.
func (s *Supervisor) URL() string { return s.spec.URL() }

func (s *Supervisor) setProc(p *process.Process, last process.Status) {
	s.stateMu.Lock()
	s.proc = p
	s.last = last
	s.stateMu.Unlock()
}

func (s *Supervisor) startLocked() error {
	if s.proc != nil {
		if s.proc.Alive() {
			s.log.Debug("server already running", "pid", s.proc.Snapshot().PID)
			return nil
		}
		s.setProc(nil, s.proc.Snapshot())
	}

	p := process.New(s.spec)
	s.log.Info("starting server", "cmd", s.commandLine())
	if err := p.Start(); err != nil {
		metrics.IncStartFailure(s.spec.Name)
		if errors.Is(err, process.ErrCommandNotFound) {
			s.log.Error("server command not found", "error", err, "hint", process.InstallHint)
		} else {
			s.log.Error("error starting server", "error", err)
		}
		return err
	}

	st := p.Snapshot()
	s.log.Info("server started", "pid", st.PID, "url", s.spec.URL())
	if err := p.EnforceStartDuration(s.opts.StartGrace); err != nil {
		stdout, stderr := p.Output()
		s.log.Error("server failed to start", "pid", st.PID, "error", err,
			"stdout", strings.TrimSpace(stdout), "stderr", strings.TrimSpace(stderr))
		metrics.IncStartFailure(s.spec.Name)
		s.setProc(nil, p.Snapshot())
		return err
	}
	s.setProc(p, process.Status{})
	metrics.IncStart(s.spec.Name)
	return nil
}

func (s *Supervisor) stopLocked() error {
	p := s.proc
	if p == nil {
		return nil
	}
	pid := p.Snapshot().PID
	wasAlive := p.Alive()
	killed, err := p.Stop(s.opts.StopTimeout)
	// Cleared even on error so a dead child is never believed alive.
	s.setProc(nil, p.Snapshot())
	if err != nil {
		s.log.Error("error stopping server", "pid", pid, "error", err)
		return err
	}
	switch {
	case !wasAlive:
		metrics.IncStop(s.spec.Name, metrics.StopGone)
		s.log.Info("server already exited", "pid", pid)
	case killed:
		metrics.IncStop(s.spec.Name, metrics.StopKilled)
		s.log.Warn("server stopped", "pid", pid, "forced", true)
	default:
		metrics.IncStop(s.spec.Name, metrics.StopGraceful)
		s.log.Info("server stopped", "pid", pid)
	}
	return nil
}

func (s *Supervisor) commandLine() string {
	name := s.spec.Command
	if name == "" {
		name = process.DefaultCommand
	}
	return strings.Join(append([]string{name}, s.spec.Args()...), " ")
}
