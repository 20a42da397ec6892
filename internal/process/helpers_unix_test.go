//go:build !windows

package process

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// shellSpec returns a Spec that runs body with /bin/sh. The script path is
// passed where the wiki directory normally goes, so the script receives
// "--listen host=... port=..." as its arguments.
func shellSpec(t *testing.T, body string) Spec {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(p, []byte(body+"\n"), 0o600))
	return Spec{Name: "test-server", Command: "/bin/sh", WikiDir: p, Host: "127.0.0.1", Port: 18080}
}

// pidAlive treats zombies as dead.
func pidAlive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return true
	}
	return !bytes.Contains(b, []byte("State:\tZ"))
}

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return fn()
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	var pid int
	ok := waitUntil(2*time.Second, 10*time.Millisecond, func() bool {
		b, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(b)))
		return err == nil && pid > 0
	})
	require.True(t, ok, "pid file %s not written", path)
	return pid
}
