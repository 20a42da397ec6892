package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/loykin/tidwatch/internal/logger"
)

// DefaultCommand is the server program launched when Spec.Command is empty.
const DefaultCommand = "tiddlywiki"

// Spec describes the server process to be supervised.
type Spec struct {
	Name    string        `json:"name"`     // label used for logs and metrics
	Command string        `json:"command"`  // server executable, resolved on PATH
	WikiDir string        `json:"wiki_dir"` // first positional argument
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Env     []string      `json:"env"` // KEY=VALUE overrides on top of os.Environ
	Log     logger.Config `json:"log"` // optional rotated capture of child output
}

// Args returns the argument vector passed to the server command.
func (s *Spec) Args() []string {
	return []string{
		s.WikiDir,
		"--listen",
		"host=" + s.Host,
		"port=" + strconv.Itoa(s.Port),
	}
}

// URL is where the server is expected to listen once started.
func (s *Spec) URL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

func (s *Spec) commandName() string {
	if s.Command == "" {
		return DefaultCommand
	}
	return s.Command
}

// BuildCommand resolves the server executable and constructs an *exec.Cmd.
// It returns an error wrapping ErrCommandNotFound when the program is not
// installed, which callers treat as a fatal configuration error.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	name := s.commandName()
	path, err := exec.LookPath(name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, name)
		}
		return nil, fmt.Errorf("resolve %q: %w", name, err)
	}
	// #nosec G204
	return exec.Command(path, s.Args()...), nil
}
