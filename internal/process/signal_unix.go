//go:build !windows

package process

import "syscall"

// signalGroup sends sig to every member of the process group led by pid.
// Signal 0 only probes whether the group still exists.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}
