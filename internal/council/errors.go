package council

import (
	"errors"
	"fmt"
)

var (
	// ErrStartupPrecondition marks failures detected before any member is
	// left running. Callers exit non-zero without producing a report.
	ErrStartupPrecondition = errors.New("council: startup precondition failed")
	// ErrAgentNotFound reports that the agent executable is not on PATH.
	ErrAgentNotFound = errors.New("council: agent binary not found")
	// ErrWorkerFailure is recorded on a member that exited non-zero.
	ErrWorkerFailure = errors.New("council: member failed")
	// ErrWorkerTimeout is recorded on a member still running at the deadline.
	ErrWorkerTimeout = errors.New("council: member timed out")
)

func precondition(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStartupPrecondition) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStartupPrecondition, err)
}
