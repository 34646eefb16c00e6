package events

import (
	"strings"
	"time"
)

// Type names a lifecycle notification emitted during a council run.
type Type string

const (
	RunStarted       Type = "run_started"
	MemberStarted    Type = "member_started"
	MemberExited     Type = "member_exited"
	Progress         Type = "progress"
	DeadlineReached  Type = "deadline_reached"
	SweepFinished    Type = "sweep_finished"
	SynthesisStarted Type = "synthesis_started"
	SynthesisDone    Type = "synthesis_done"
	RunFinished      Type = "run_finished"
)

// Event captures a single notification. Member is 1-based; zero means the
// event concerns the run as a whole.
type Event struct {
	ID           string        `json:"id,omitempty"`
	Sequence     int64         `json:"sequence"`
	Type         Type          `json:"type"`
	RunID        string        `json:"run_id"`
	Member       int           `json:"member,omitempty"`
	ConstraintID string        `json:"constraint_id,omitempty"`
	State        string        `json:"state,omitempty"`
	Message      string        `json:"message,omitempty"`
	Completed    int           `json:"completed,omitempty"`
	Running      int           `json:"running,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns,omitempty"`
	Time         time.Time     `json:"time"`
}

// Publisher accepts events. Router satisfies it.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc func(Event)

// Publish executes f(e).
func (f PublisherFunc) Publish(e Event) {
	if f == nil {
		return
	}
	f(e)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(nil)

// Logger records router diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

func isCritical(kind Type) bool {
	switch kind {
	case RunFinished, MemberExited, DeadlineReached:
		return true
	}
	return false
}

func isPreferredDrop(kind Type) bool {
	return kind == Progress
}

func normalizeRun(runID string) string {
	return strings.TrimSpace(strings.ToLower(runID))
}
