package council

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/council/internal/events"
)

// Outcome summarizes how a supervision pass ended.
type Outcome struct {
	Completed   int
	Failed      int
	TimedOut    int
	DeadlineHit bool
	Interrupted bool
	Elapsed     time.Duration
}

// Supervisor is the single writer of handle state. It waits for member exits
// and races them against one wall-clock deadline for the whole batch.
type Supervisor struct {
	runID            string
	sweeper          *sweeper
	logger           *zap.Logger
	publisher        events.Publisher
	pollInterval     time.Duration
	progressInterval time.Duration
	now              func() time.Time
}

type supervisorOption func(*Supervisor)

func withPollInterval(d time.Duration) supervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func withProgressInterval(d time.Duration) supervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.progressInterval = d
		}
	}
}

func newSupervisor(runID string, sw *sweeper, logger *zap.Logger, pub events.Publisher, opts ...supervisorOption) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Discard
	}
	s := &Supervisor{
		runID:            runID,
		sweeper:          sw,
		logger:           logger,
		publisher:        pub,
		pollInterval:     DefaultPollInterval,
		progressInterval: DefaultProgressInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run supervises handles until every one is terminal, the budget elapses or
// ctx is cancelled. On the deadline, still-running members become TimedOut;
// on cancellation they become Failed ("interrupted") and ctx.Err() is
// returned. Both paths sweep every process group of the run once.
func (s *Supervisor) Run(ctx context.Context, handles []*Handle, budget time.Duration) (Outcome, error) {
	start := s.now()
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	exits := make(chan *Handle, len(handles))
	stop := make(chan struct{})
	defer close(stop)
	for _, h := range handles {
		go func() {
			select {
			case <-h.Exited():
				exits <- h
			case <-stop:
			}
		}()
	}

	pending := 0
	for _, h := range handles {
		if !h.State().Terminal() {
			pending++
		}
	}
	lastProgress := start
	var out Outcome

	for pending > 0 {
		select {
		case h := <-exits:
			if s.classify(h) {
				pending--
			}
		case <-ticker.C:
			pending -= s.reapExited(handles)
			if now := s.now(); pending > 0 && now.Sub(lastProgress) >= s.progressInterval {
				lastProgress = now
				s.progress(handles, now.Sub(start))
			}
		case <-deadline.C:
			s.reapExited(handles)
			s.logger.Warn("deadline reached", zap.Duration("budget", budget), zap.Int("running", pending))
			s.publish(events.Event{Type: events.DeadlineReached, Message: budget.String(), Running: pending})
			s.finishRunning(handles, StateTimedOut, "deadline exceeded after "+budget.String())
			s.sweep("deadline")
			out.DeadlineHit = true
			pending = 0
		case <-ctx.Done():
			s.reapExited(handles)
			s.logger.Warn("run interrupted", zap.Error(ctx.Err()), zap.Int("running", pending))
			s.finishRunning(handles, StateFailed, "interrupted")
			s.sweep("interrupted")
			out.Interrupted = true
			pending = 0
		}
	}

	out.Elapsed = s.now().Sub(start)
	for _, h := range handles {
		switch h.State() {
		case StateCompleted:
			out.Completed++
		case StateFailed:
			out.Failed++
		case StateTimedOut:
			out.TimedOut++
		}
	}
	if out.Interrupted {
		return out, ctx.Err()
	}
	return out, nil
}

// classify records the exit of h. Terminal handles are left untouched.
func (s *Supervisor) classify(h *Handle) bool {
	if h.State().Terminal() {
		return false
	}
	info, ok := h.exitObserved()
	if !ok {
		return false
	}
	if !h.transition(info.state, info.code, info.reason, info.at) {
		return false
	}
	st := h.Status()
	fields := []zap.Field{
		zap.Int("member", h.Member()),
		zap.String("constraint", string(h.Assignment.ConstraintID)),
		zap.String("state", st.State.String()),
		zap.Int("exit_code", st.ExitCode),
		zap.Duration("duration", st.Duration()),
	}
	if st.State == StateFailed {
		s.logger.Warn("member failed", append(fields, zap.String("reason", st.Reason))...)
	} else {
		s.logger.Info("member finished", fields...)
	}
	s.publish(events.Event{
		Type:         events.MemberExited,
		Member:       h.Member(),
		ConstraintID: string(h.Assignment.ConstraintID),
		State:        st.State.String(),
		Message:      st.Reason,
		Elapsed:      st.Duration(),
	})
	return true
}

// reapExited classifies every running handle whose process already exited and
// returns how many transitioned.
func (s *Supervisor) reapExited(handles []*Handle) int {
	n := 0
	for _, h := range handles {
		if s.classify(h) {
			n++
		}
	}
	return n
}

func (s *Supervisor) finishRunning(handles []*Handle, state State, reason string) {
	at := s.now()
	for _, h := range handles {
		if !h.transition(state, -1, reason, at) {
			continue
		}
		s.logger.Warn("member stopped",
			zap.Int("member", h.Member()),
			zap.String("constraint", string(h.Assignment.ConstraintID)),
			zap.String("state", state.String()),
			zap.String("reason", reason))
		s.publish(events.Event{
			Type:         events.MemberExited,
			Member:       h.Member(),
			ConstraintID: string(h.Assignment.ConstraintID),
			State:        state.String(),
			Message:      reason,
			Elapsed:      at.Sub(h.StartTime),
		})
	}
}

func (s *Supervisor) sweep(reason string) {
	if s.sweeper == nil {
		return
	}
	s.sweeper.sweep(reason)
	s.publish(events.Event{Type: events.SweepFinished, Message: reason})
}

func (s *Supervisor) progress(handles []*Handle, elapsed time.Duration) {
	completed, running := 0, 0
	for _, h := range handles {
		if h.State().Terminal() {
			completed++
		} else {
			running++
		}
	}
	s.logger.Info("council in progress",
		zap.Int("finished", completed),
		zap.Int("running", running),
		zap.Duration("elapsed", elapsed.Round(time.Second)))
	s.publish(events.Event{Type: events.Progress, Completed: completed, Running: running, Elapsed: elapsed})
}

func (s *Supervisor) publish(e events.Event) {
	e.RunID = s.runID
	s.publisher.Publish(e)
}
