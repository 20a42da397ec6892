package process

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/tidwatch/internal/env"
)

const (
	// captureLimit bounds the per-stream output kept for startup diagnostics.
	captureLimit = 64 << 10
	// pipeWaitDelay bounds how long Wait keeps copying output after the
	// leader exits while a straggler in the group still holds the pipes.
	pipeWaitDelay = time.Second
)

// Process owns a single child process started from a Spec.
// A background goroutine is the only caller of cmd.Wait, so the child is
// always reaped and never left as a zombie.
type Process struct {
	spec      Spec
	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	waitDone  chan struct{} // closed once cmd.Wait returns
	startUnix int64         // OS start time of the group leader, 0 if unknown
	stdout    *tailBuffer
	stderr    *tailBuffer
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// Start launches the child as the leader of a new process group with its
// stdout/stderr captured.
func (r *Process) Start() error {
	r.mu.Lock()
	if r.waitDone != nil && !isClosed(r.waitDone) {
		r.mu.Unlock()
		return errors.New("process already started")
	}
	spec := r.spec
	r.mu.Unlock()

	cmd, err := spec.BuildCommand()
	if err != nil {
		return err
	}
	if len(spec.Env) > 0 {
		cmd.Env = env.Merge(os.Environ(), spec.Env)
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = pipeWaitDelay

	if spec.Log.Dir != "" {
		if err := os.MkdirAll(spec.Log.Dir, 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	outW, errW := spec.Log.Writers(spec.Name)
	stdout, stderr := newTailBuffer(captureLimit), newTailBuffer(captureLimit)
	cmd.Stdout = teeTo(stdout, outW)
	cmd.Stderr = teeTo(stderr, errW)

	if err := cmd.Start(); err != nil {
		closeQuietly(outW)
		closeQuietly(errW)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrCommandNotFound, err)
		}
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}

	done := make(chan struct{})
	pid := cmd.Process.Pid
	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = done
	r.stdout, r.stderr = stdout, stderr
	r.outCloser, r.errCloser = outW, errW
	r.status = Status{Name: spec.Name, Running: true, PID: pid, StartedAt: time.Now()}
	r.startUnix = getProcStartUnix(pid)
	r.mu.Unlock()

	go r.wait(cmd, done)
	return nil
}

func (r *Process) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitErr = err
	outW, errW := r.outCloser, r.errCloser
	r.outCloser, r.errCloser = nil, nil
	r.mu.Unlock()
	closeQuietly(outW)
	closeQuietly(errW)
	close(done)
}

// WaitDoneChan returns the channel closed when the current child is reaped,
// or nil if nothing was started.
func (r *Process) WaitDoneChan() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitDone == nil {
		return nil
	}
	return r.waitDone
}

// Exited reports whether the child has been reaped (or never started).
func (r *Process) Exited() bool {
	done := r.WaitDoneChan()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Alive reports whether the recorded child is still running and its PID
// still refers to the same OS process.
func (r *Process) Alive() bool {
	if r.Exited() {
		return false
	}
	r.mu.Lock()
	pid, startUnix := r.status.PID, r.startUnix
	r.mu.Unlock()
	return sameProcess(pid, startUnix)
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Output returns the captured tail of the child's stdout and stderr.
func (r *Process) Output() (string, string) {
	r.mu.Lock()
	stdout, stderr := r.stdout, r.stderr
	r.mu.Unlock()
	return stdout.String(), stderr.String()
}

// EnforceStartDuration waits d and fails if the child exits before then.
func (r *Process) EnforceStartDuration(d time.Duration) error {
	done := r.WaitDoneChan()
	if done == nil {
		return errBeforeStart(d, nil)
	}
	if d <= 0 {
		if r.Exited() {
			return errBeforeStart(d, r.Snapshot().ExitErr)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return errBeforeStart(d, r.Snapshot().ExitErr)
	case <-t.C:
		return nil
	}
}

// Stop sends SIGTERM to the child's process group, waits up to grace for the
// leader to exit, then escalates to SIGKILL and waits without bound.
// A group that no longer exists counts as stopped. killed reports whether
// the SIGKILL escalation happened.
func (r *Process) Stop(grace time.Duration) (killed bool, err error) {
	r.mu.Lock()
	cmd, done, startUnix := r.cmd, r.waitDone, r.startUnix
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil || done == nil || isClosed(done) {
		return false, nil
	}
	pid := cmd.Process.Pid
	if !sameProcess(pid, startUnix) {
		return false, nil
	}

	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			waitTimeout(done, grace)
			return false, nil
		}
		return false, fmt.Errorf("signal group %d: %w", pid, err)
	}

	if waitTimeout(done, grace) {
		// Leader is gone; make sure nothing it spawned outlives it.
		if signalGroup(pid, 0) == nil {
			_ = signalGroup(pid, syscall.SIGKILL)
		}
		return false, nil
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return true, fmt.Errorf("kill group %d: %w", pid, err)
	}
	<-done
	r.mu.Lock()
	r.status.Killed = true
	r.mu.Unlock()
	return true, nil
}

// waitTimeout reports whether done closed within d.
func waitTimeout(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func teeTo(buf *tailBuffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
