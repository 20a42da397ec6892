package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source watches a directory tree recursively and turns fsnotify
// notifications into Events. Directories created after start are added to
// the watch as they appear.
type Source struct {
	fsw *fsnotify.Watcher
	log *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewSource registers root and every directory below it.
func NewSource(root string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	s := &Source{fsw: fsw, log: log, dirs: make(map[string]struct{})}
	if err := s.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return s, nil
}

// Run delivers events to sink until ctx is done or the source is closed.
// sink is called from this goroutine only; a non-nil error from sink stops
// the loop and is returned.
func (s *Source) Run(ctx context.Context, sink func(Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return nil
			}
			e, ok := s.translate(ev)
			if !ok {
				continue
			}
			if err := sink(e); err != nil {
				return err
			}
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch error", "error", err)
		}
	}
}

// Close stops the underlying watcher. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.fsw.Close()
	})
	return s.closeErr
}

func (s *Source) translate(ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Event{Path: ev.Name, Kind: Deleted, IsDir: s.forget(ev.Name)}, true
	case ev.Has(fsnotify.Create):
		isDir := isDirectory(ev.Name)
		if isDir {
			if err := s.addRecursive(ev.Name); err != nil {
				s.log.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
		return Event{Path: ev.Name, Kind: Created, IsDir: isDir}, true
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		return Event{Path: ev.Name, Kind: Modified, IsDir: s.isWatchedDir(ev.Name)}, true
	default:
		return Event{}, false
	}
}

func (s *Source) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && os.IsNotExist(err) {
				return nil // removed while walking
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.fsw.Add(path); err != nil {
			return err
		}
		s.mu.Lock()
		s.dirs[path] = struct{}{}
		s.mu.Unlock()
		return nil
	})
}

// forget drops path and anything below it from the directory set and reports
// whether path itself was a watched directory.
func (s *Source) forget(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, wasDir := s.dirs[path]
	if !wasDir {
		return false
	}
	prefix := path + string(filepath.Separator)
	for d := range s.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	return true
}

func (s *Source) isWatchedDir(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirs[path]
	return ok
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
