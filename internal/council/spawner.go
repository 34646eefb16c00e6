package council

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// defaultWaitDelay bounds how long the reaper keeps draining output after the
// agent exited while an orphaned descendant still holds the pipe open.
const defaultWaitDelay = 2 * time.Second

// Spawner launches member processes. Each process gets its own group, a null
// stdin and one capped sink for stdout and stderr.
type Spawner struct {
	Agent     string
	Model     string
	Dir       string
	SinkDir   string
	MaxLines  int
	MaxBytes  int
	Env       []string
	WaitDelay time.Duration
	Logger    *zap.Logger

	now func() time.Time
}

// Spawn starts the agent for a and returns immediately. A reaper goroutine
// records the exit status once and closes the handle's Exited channel.
func (s *Spawner) Spawn(a Assignment) (*Handle, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	sinkPath := filepath.Join(s.SinkDir, fmt.Sprintf("member-%02d-%s.log", a.Member, a.ConstraintID))
	sink, err := newSink(sinkPath, s.MaxLines, s.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("council: spawn member %d: %w", a.Member, err)
	}

	cmd := exec.Command(s.Agent, agentArgs(a.Prompt, s.Model)...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	// nil Stdin reads from the null device.
	cmd.Stdin = nil
	cmd.Stdout = sink
	cmd.Stderr = sink
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("council: spawn member %d: %w", a.Member, err)
	}
	h := newHandle(a, sink, now())
	h.cmd = cmd
	h.PGID = cmd.Process.Pid
	logger.Debug("member spawned",
		zap.Int("member", a.Member),
		zap.String("constraint", string(a.ConstraintID)),
		zap.Int("pgid", h.PGID))

	go func() {
		err := cmd.Wait()
		info := classifyExit(cmd, err, now())
		info.groupEmpty = !groupAlive(h.PGID)
		h.exited = info
		if flushErr := sink.Flush(); flushErr != nil {
			logger.Warn("sink flush failed", zap.Int("member", a.Member), zap.Error(flushErr))
		}
		close(h.done)
	}()
	return h, nil
}

// classifyExit maps a Wait result to a terminal state: exit status 0 is
// Completed, anything else (non-zero status or death by signal) is Failed.
func classifyExit(cmd *exec.Cmd, err error, at time.Time) exitInfo {
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	switch {
	case err == nil:
		return exitInfo{state: StateCompleted, code: code, at: at}
	case errors.Is(err, exec.ErrWaitDelay):
		// Exited 0 but a descendant kept the output pipe open.
		return exitInfo{state: StateCompleted, code: code, reason: "output pipe held open after exit", at: at}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitInfo{state: StateFailed, code: code, reason: exitErr.Error(), at: at}
		}
		return exitInfo{state: StateFailed, code: code, reason: err.Error(), at: at}
	}
}
