//go:build windows

package process

import (
	"os"
	"syscall"
)

// signalGroup has no process-group semantics on Windows; it terminates the
// leader only. Signal 0 probes for existence.
func signalGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return syscall.ESRCH
	}
	if sig == 0 {
		return nil
	}
	if err := p.Kill(); err != nil {
		return syscall.ESRCH
	}
	return nil
}
