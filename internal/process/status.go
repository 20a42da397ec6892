package process

import "time"

// Status is a point-in-time view of the supervised child.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"-"`
	Killed    bool      `json:"killed"` // last stop escalated to SIGKILL
	Restarts  int       `json:"restarts"`
}
