package watcher

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/tidwatch/internal/debounce"
	"github.com/loykin/tidwatch/internal/metrics"
	"github.com/loykin/tidwatch/internal/supervisor"
)

// DefaultSuffix selects TiddlyWiki tiddler files.
const DefaultSuffix = ".tid"

// Restarter is restarted when an accepted change arrives.
type Restarter interface {
	Restart() error
}

// Coordinator filters change events and restarts the server when the
// debouncer accepts one.
type Coordinator struct {
	suffix string
	deb    *debounce.Debouncer
	target Restarter
	log    *slog.Logger
	now    func() time.Time
}

func NewCoordinator(suffix string, deb *debounce.Debouncer, target Restarter, log *slog.Logger) *Coordinator {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{suffix: suffix, deb: deb, target: target, log: log, now: time.Now}
}

// Qualifies reports whether ev is a content-file change. Directory events
// and other extensions never reach the debouncer.
func (c *Coordinator) Qualifies(ev Event) bool {
	return !ev.IsDir && strings.HasSuffix(ev.Path, c.suffix)
}

// Handle processes one event. The restart runs synchronously on the caller's
// goroutine. Only errors that should end the program are returned; a server
// that fails to come back up is logged and left stopped until the next change.
func (c *Coordinator) Handle(ev Event) error {
	kind := ev.Kind.String()
	if !c.Qualifies(ev) {
		metrics.IncEvent(kind, metrics.OutcomeFiltered)
		return nil
	}
	if !c.deb.ShouldTrigger(c.now()) {
		metrics.IncEvent(kind, metrics.OutcomeDebounced)
		c.log.Debug("change suppressed by debounce", "path", ev.Path, "kind", kind)
		return nil
	}
	metrics.IncEvent(kind, metrics.OutcomeTriggered)
	c.log.Info("tiddler change detected, restarting server", "path", ev.Path, "kind", kind)
	if err := c.target.Restart(); err != nil {
		switch {
		case errors.Is(err, supervisor.ErrClosed):
			c.log.Debug("change ignored during shutdown", "path", ev.Path)
		case supervisor.IsFatal(err):
			return err
		default:
			c.log.Warn("server is down until the next change", "error", err)
		}
	}
	return nil
}
