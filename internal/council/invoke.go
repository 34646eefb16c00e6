package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/council/internal/constraint"
)

// runInvoker runs single prompts with the same spawner settings, budget and
// sweep protocol as the members of run.
type runInvoker struct {
	run *Run
}

func (r *Run) invoker() Invoker {
	return &runInvoker{run: r}
}

// Invoke spawns one agent process, supervises it against the run timeout and
// returns its captured output. Non-zero exit, timeout and empty output are
// errors.
func (i *runInvoker) Invoke(ctx context.Context, label, prompt string) (string, error) {
	run := i.run
	a := Assignment{ConstraintID: constraint.ID(label), Prompt: prompt}
	h, err := run.spawner.Spawn(a)
	if err != nil {
		return "", err
	}
	sw := newSweeper(run.terminator, run.logger)
	sw.track(h.PGID)
	defer func() {
		sw.sweep(label + " teardown")
		timer := time.NewTimer(run.reapWait)
		defer timer.Stop()
		select {
		case <-h.Exited():
		case <-timer.C:
			run.log().Warn("agent not yet reaped after sweep", zap.String("label", label), zap.Int("pgid", h.PGID))
		}
		if err := h.Sink.Close(); err != nil {
			run.log().Warn("sink close failed", zap.String("label", label), zap.Error(err))
		}
	}()

	sup := newSupervisor(run.ID, sw, run.logger, nil, withPollInterval(run.pollInterval))
	if _, err := sup.Run(ctx, []*Handle{h}, run.Config.Timeout); err != nil {
		return "", err
	}
	st := h.Status()
	switch st.State {
	case StateTimedOut:
		return "", fmt.Errorf("%w: %s", ErrWorkerTimeout, st.Reason)
	case StateFailed:
		return "", fmt.Errorf("%w: %s", ErrWorkerFailure, st.Reason)
	}
	text, err := h.Sink.Content()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("council: %s produced no output", label)
	}
	return strings.TrimSpace(text), nil
}
