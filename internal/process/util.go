package process

import (
	"errors"
	"time"
)

var (
	// ErrCommandNotFound means the server program is not installed or not on PATH.
	ErrCommandNotFound = errors.New("server command not found")
	// ErrStartupFailed means the child exited inside the start grace window.
	ErrStartupFailed = errors.New("process exited during start grace window")
)

// InstallHint is shown next to ErrCommandNotFound.
const InstallHint = "make sure TiddlyWiki is installed: npm install -g tiddlywiki"

func errBeforeStart(d time.Duration, exitErr error) error {
	if exitErr != nil {
		return errors.Join(ErrStartupFailed, errors.New("grace "+d.String()), exitErr)
	}
	return errors.Join(ErrStartupFailed, errors.New("grace "+d.String()))
}
