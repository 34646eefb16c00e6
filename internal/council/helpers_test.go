package council

import (
	"sync"
	"time"

	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/events"
)

// recordingTerminator counts sweeps per process group and optionally
// delegates to a real terminator.
type recordingTerminator struct {
	mu     sync.Mutex
	sweeps int
	groups map[int]int
	inner  Terminator
}

func newRecordingTerminator(inner Terminator) *recordingTerminator {
	return &recordingTerminator{groups: map[int]int{}, inner: inner}
}

func (r *recordingTerminator) Terminate(pgids []int) error {
	r.mu.Lock()
	r.sweeps++
	for _, pgid := range pgids {
		r.groups[pgid]++
	}
	r.mu.Unlock()
	if r.inner != nil {
		return r.inner.Terminate(pgids)
	}
	return nil
}

func (r *recordingTerminator) counts() (int, map[int]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]int, len(r.groups))
	for k, v := range r.groups {
		out[k] = v
	}
	return r.sweeps, out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func fakeHandle(member int, id string, pgid int) *Handle {
	h := newHandle(Assignment{Member: member, ConstraintID: constraint.ID(id)}, nil, time.Now())
	h.PGID = pgid
	return h
}

func exitHandle(h *Handle, state State, code int) {
	h.exited = exitInfo{state: state, code: code, at: time.Now()}
	close(h.done)
}
