package council

import (
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run owns the handles, sinks and scratch directory of one council batch.
// Close must be deferred on every path.
type Run struct {
	ID         string
	Config     RunConfig
	Handles    []*Handle
	StartTime  time.Time
	Repository string

	scratch      string
	sweeper      *sweeper
	logger       *zap.Logger
	reapWait     time.Duration
	pollInterval time.Duration
	spawner      *Spawner
	terminator   Terminator

	closeOnce sync.Once
	closeErr  error
}

func (r *Run) log() *zap.Logger {
	if r.logger == nil {
		return zap.NewNop()
	}
	return r.logger
}

// ScratchDir is where member sinks live until Close.
func (r *Run) ScratchDir() string {
	return r.scratch
}

// Swept reports whether the termination sweep already ran.
func (r *Run) Swept() bool {
	return r.sweeper.done()
}

// Close sweeps the run's process groups if nothing else did, waits briefly
// for reapers, then releases sinks and scratch storage. Cleanup problems are
// logged; the returned error is informational only.
//
// The teardown sweep leaves out groups that were already empty when their
// leader was reaped: the pgid is free from then on and may belong to another
// process. A group that still had members at reap time keeps its id reserved
// while any of them live, so it is signalled; the id can only be recycled in
// the window between its last member exiting and this sweep.
func (r *Run) Close() error {
	r.closeOnce.Do(func() {
		r.sweeper.sweepExcept("teardown", r.emptyGroups())
		r.awaitReapers()
		var errs []error
		for _, h := range r.Handles {
			if h.Sink == nil {
				continue
			}
			if err := h.Sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.scratch != "" {
			if err := os.RemoveAll(r.scratch); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
		if r.closeErr != nil {
			r.log().Warn("run cleanup incomplete", zap.String("run", r.ID), zap.Error(r.closeErr))
		}
	})
	return r.closeErr
}

func (r *Run) emptyGroups() map[int]bool {
	empty := map[int]bool{}
	for _, h := range r.Handles {
		if info, ok := h.exitObserved(); ok && info.groupEmpty {
			empty[h.PGID] = true
		}
	}
	return empty
}

func (r *Run) awaitReapers() {
	timer := time.NewTimer(r.reapWait)
	defer timer.Stop()
	for _, h := range r.Handles {
		select {
		case <-h.Exited():
		case <-timer.C:
			r.log().Warn("member process not reaped after sweep", zap.Int("member", h.Member()), zap.Int("pgid", h.PGID))
			return
		}
	}
}
