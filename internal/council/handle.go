package council

import (
	"os/exec"
	"sync"
	"time"

	"github.com/kingrea/council/internal/constraint"
)

// State is the lifecycle position of one council member.
type State int

const (
	StateRunning State = iota
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s != StateRunning
}

// Assignment binds one member slot to a constraint and the prompt built for
// it. Member is 1-based.
type Assignment struct {
	Member       int
	ConstraintID constraint.ID
	Mandatory    bool
	Prompt       string
}

// Status is a point-in-time copy of a handle's mutable fields.
type Status struct {
	State    State
	ExitCode int
	Reason   string
	Err      error
	Start    time.Time
	End      time.Time
}

// Duration is the member's wall time, or zero while it is still running.
func (s Status) Duration() time.Duration {
	if s.End.IsZero() || s.Start.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// exitInfo is what the reaper observed when the process was waited.
type exitInfo struct {
	state  State
	code   int
	reason string
	at     time.Time
	// groupEmpty is set when no process of the member's group survived the
	// leader at reap time.
	groupEmpty bool
}

// Handle tracks one spawned member process. Only the supervisor moves it out
// of StateRunning, and it does so at most once.
type Handle struct {
	Assignment Assignment
	PGID       int
	Sink       *Sink
	StartTime  time.Time

	cmd    *exec.Cmd
	done   chan struct{}
	exited exitInfo

	mu     sync.Mutex
	status Status
}

func newHandle(a Assignment, sink *Sink, start time.Time) *Handle {
	return &Handle{
		Assignment: a,
		Sink:       sink,
		StartTime:  start,
		done:       make(chan struct{}),
		status:     Status{State: StateRunning, ExitCode: -1, Start: start},
	}
}

// Member returns the 1-based member number.
func (h *Handle) Member() int {
	return h.Assignment.Member
}

// Exited is closed once the process has been waited on.
func (h *Handle) Exited() <-chan struct{} {
	return h.done
}

// Status returns a snapshot of the handle's lifecycle fields.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// State is shorthand for Status().State.
func (h *Handle) State() State {
	return h.Status().State
}

// exitObserved reports whether the reaper already recorded an exit, and the
// details when it did.
func (h *Handle) exitObserved() (exitInfo, bool) {
	select {
	case <-h.done:
		return h.exited, true
	default:
		return exitInfo{}, false
	}
}

// transition moves a running handle to a terminal state. It returns false and
// changes nothing when the handle is already terminal.
func (h *Handle) transition(state State, code int, reason string, at time.Time) bool {
	if !state.Terminal() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.State.Terminal() {
		return false
	}
	h.status.State = state
	h.status.ExitCode = code
	h.status.Reason = reason
	h.status.End = at
	switch state {
	case StateFailed:
		h.status.Err = ErrWorkerFailure
	case StateTimedOut:
		h.status.Err = ErrWorkerTimeout
	}
	return true
}
