package watcher

import "fmt"

// Kind classifies a filesystem change.
type Kind int

const (
	Modified Kind = iota + 1
	Created
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Modified:
		return "modified"
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single change notification for a path under the watch target.
type Event struct {
	Path  string
	Kind  Kind
	IsDir bool
}
