package council

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Terminator ends every process group of a run. Implementations must be
// safe to call with groups that already exited.
type Terminator interface {
	Terminate(pgids []int) error
}

// TerminatorFunc adapts a function into a Terminator.
type TerminatorFunc func(pgids []int) error

// Terminate executes f(pgids).
func (f TerminatorFunc) Terminate(pgids []int) error {
	if f == nil {
		return nil
	}
	return f(pgids)
}

// GroupTerminator is the two-phase sweep: SIGTERM to every group, wait up to
// Grace for the groups to empty, then SIGKILL whatever is left.
type GroupTerminator struct {
	Grace  time.Duration
	Poll   time.Duration
	Logger *zap.Logger
}

const defaultSweepPoll = 50 * time.Millisecond

// Terminate runs the sweep. It returns as soon as every group is empty.
func (t GroupTerminator) Terminate(pgids []int) error {
	if len(pgids) == 0 {
		return nil
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	grace := t.Grace
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	poll := t.Poll
	if poll <= 0 {
		poll = defaultSweepPoll
	}

	termErr := signalAll(pgids, terminateGroup)
	if termErr != nil {
		logger.Warn("sweep: SIGTERM failed", zap.Ints("pgids", pgids), zap.Error(termErr))
	}

	deadline := time.Now().Add(grace)
	survivors := alive(pgids)
	for len(survivors) > 0 && time.Now().Before(deadline) {
		time.Sleep(poll)
		survivors = alive(survivors)
	}
	if len(survivors) == 0 {
		logger.Debug("sweep: all groups exited", zap.Ints("pgids", pgids))
		return termErr
	}

	logger.Warn("sweep: groups survived grace period, killing",
		zap.Ints("pgids", survivors), zap.Duration("grace", grace))
	if err := signalAll(survivors, killGroup); err != nil {
		return fmt.Errorf("council: kill process groups: %w", err)
	}
	return termErr
}

func signalAll(pgids []int, signal func(int) error) error {
	var g errgroup.Group
	for _, pgid := range pgids {
		g.Go(func() error {
			if err := signal(pgid); err != nil {
				return fmt.Errorf("group %d: %w", pgid, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func alive(pgids []int) []int {
	var out []int
	for _, pgid := range pgids {
		if groupAlive(pgid) {
			out = append(out, pgid)
		}
	}
	return out
}

// sweeper runs the run's termination sweep at most once, whichever of the
// deadline, an interruption or teardown gets there first.
type sweeper struct {
	once       sync.Once
	terminator Terminator
	logger     *zap.Logger
	mu         sync.Mutex
	pgids      []int
	ran        bool
}

func newSweeper(t Terminator, logger *zap.Logger) *sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t == nil {
		t = GroupTerminator{Logger: logger}
	}
	return &sweeper{terminator: t, logger: logger}
}

func (s *sweeper) track(pgid int) {
	s.mu.Lock()
	s.pgids = append(s.pgids, pgid)
	s.mu.Unlock()
}

func (s *sweeper) sweep(reason string) {
	s.sweepExcept(reason, nil)
}

// sweepExcept is sweep without the groups in skip.
func (s *sweeper) sweepExcept(reason string, skip map[int]bool) {
	s.once.Do(func() {
		s.mu.Lock()
		pgids := make([]int, 0, len(s.pgids))
		for _, pgid := range s.pgids {
			if !skip[pgid] {
				pgids = append(pgids, pgid)
			}
		}
		s.ran = true
		s.mu.Unlock()
		s.logger.Info("sweeping process groups", zap.String("reason", reason), zap.Int("groups", len(pgids)))
		if err := s.terminator.Terminate(pgids); err != nil {
			s.logger.Warn("sweep incomplete", zap.String("reason", reason), zap.Error(err))
		}
	})
}

func (s *sweeper) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}
