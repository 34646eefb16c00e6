package council

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/events"
)

// Invoker runs one agent prompt to completion and returns its output.
type Invoker interface {
	Invoke(ctx context.Context, label, prompt string) (string, error)
}

// Synthesizer consolidates a collected report into one recommendation.
type Synthesizer interface {
	Synthesize(ctx context.Context, report *Report, agent Invoker) (string, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher routes lifecycle events to pub.
func WithPublisher(pub events.Publisher) Option {
	return func(e *Engine) {
		if pub != nil {
			e.publisher = pub
		}
	}
}

// WithSynthesizer enables the second pass for runs that request it.
func WithSynthesizer(s Synthesizer) Option {
	return func(e *Engine) {
		e.synthesizer = s
	}
}

// WithTerminator replaces the process-group sweep.
func WithTerminator(t Terminator) Option {
	return func(e *Engine) {
		e.terminator = t
	}
}

// WithSelector replaces the constraint selector, e.g. to seed it.
func WithSelector(s *constraint.Selector) Option {
	return func(e *Engine) {
		if s != nil {
			e.selector = s
		}
	}
}

// WithRepositoryInfo sets a describer used for the report header.
func WithRepositoryInfo(describe func(dir string) string) Option {
	return func(e *Engine) {
		e.describeRepo = describe
	}
}

// WithScratchRoot sets the parent of per-run scratch directories.
func WithScratchRoot(dir string) Option {
	return func(e *Engine) {
		e.scratchRoot = dir
	}
}

func withIntervals(poll, progress time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = poll
		e.progressInterval = progress
	}
}

func withWaitDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.waitDelay = d
	}
}

// Engine runs council batches: select constraints, spawn members, supervise
// them, aggregate the report and optionally synthesize it.
type Engine struct {
	catalog          *constraint.Catalog
	selector         *constraint.Selector
	synthesizer      Synthesizer
	terminator       Terminator
	logger           *zap.Logger
	publisher        events.Publisher
	describeRepo     func(dir string) string
	lookPath         func(string) (string, error)
	scratchRoot      string
	pollInterval     time.Duration
	progressInterval time.Duration
	waitDelay        time.Duration
	now              func() time.Time
}

// NewEngine builds an engine over catalog.
func NewEngine(catalog *constraint.Catalog, opts ...Option) *Engine {
	if catalog == nil {
		catalog = constraint.Builtin()
	}
	e := &Engine{
		catalog:          catalog,
		logger:           zap.NewNop(),
		publisher:        events.Discard,
		lookPath:         exec.LookPath,
		pollInterval:     DefaultPollInterval,
		progressInterval: DefaultProgressInterval,
		waitDelay:        defaultWaitDelay,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.selector == nil {
		e.selector = constraint.NewSelector(catalog)
	}
	return e
}

// Catalog returns the catalog members are drawn from.
func (e *Engine) Catalog() *constraint.Catalog {
	return e.catalog
}

// Start validates cfg, checks the agent binary, selects constraints and
// spawns every member. Any failure here is an ErrStartupPrecondition and
// leaves no process running.
func (e *Engine) Start(ctx context.Context, cfg RunConfig) (*Run, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, precondition(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agentPath, err := e.lookPath(cfg.Agent)
	if err != nil {
		return nil, precondition(fmt.Errorf("%w: %s: %v", ErrAgentNotFound, cfg.Agent, err))
	}
	ids, err := e.selector.Select(cfg.Members, cfg.Mandatory, cfg.Policy, cfg.Task)
	if err != nil {
		return nil, precondition(err)
	}

	id := uuid.NewString()
	scratch, err := os.MkdirTemp(e.scratchRoot, "council-"+id[:8]+"-")
	if err != nil {
		return nil, precondition(fmt.Errorf("council: create scratch dir: %w", err))
	}
	logger := e.logger.With(zap.String("run", id))
	terminator := e.terminator
	if terminator == nil {
		terminator = GroupTerminator{Grace: cfg.GracePeriod, Logger: logger}
	}
	run := &Run{
		ID:           id,
		Config:       cfg,
		StartTime:    e.now(),
		scratch:      scratch,
		sweeper:      newSweeper(terminator, logger),
		logger:       logger,
		reapWait:     cfg.GracePeriod + e.waitDelay + time.Second,
		pollInterval: e.pollInterval,
		terminator:   terminator,
		spawner: &Spawner{
			Agent:     agentPath,
			Model:     cfg.Model,
			Dir:       cfg.WorkDir,
			SinkDir:   scratch,
			MaxLines:  cfg.MaxCapturedLines,
			MaxBytes:  cfg.MaxCapturedBytes,
			WaitDelay: e.waitDelay,
			Logger:    logger,
			now:       e.now,
		},
	}
	if e.describeRepo != nil {
		run.Repository = e.describeRepo(cfg.WorkDir)
	}

	logger.Info("council starting",
		zap.Int("members", len(ids)),
		zap.Duration("timeout", cfg.Timeout),
		zap.String("model", cfg.Model),
		zap.String("policy", string(cfg.Policy)))
	e.publish(events.Event{Type: events.RunStarted, RunID: id, Message: cfg.Task, Running: len(ids)})

	mandatory := make(map[constraint.ID]bool, len(cfg.Mandatory))
	for _, m := range cfg.Mandatory {
		mandatory[m] = true
	}
	for i, cid := range ids {
		rec, _ := e.catalog.Lookup(cid)
		a := Assignment{
			Member:       i + 1,
			ConstraintID: cid,
			Mandatory:    mandatory[cid],
			Prompt:       BuildPrompt(rec, cfg.Task, len(ids)),
		}
		h, err := run.spawner.Spawn(a)
		if err != nil {
			logger.Error("spawn failed, tearing down started members", zap.Int("member", a.Member), zap.Error(err))
			_ = run.Close()
			return nil, precondition(err)
		}
		run.Handles = append(run.Handles, h)
		run.sweeper.track(h.PGID)
		e.publish(events.Event{
			Type:         events.MemberStarted,
			RunID:        id,
			Member:       a.Member,
			ConstraintID: string(cid),
			State:        StateRunning.String(),
		})
	}
	return run, nil
}

// Execute runs a whole batch and returns its report. Member failures and
// timeouts are recorded in the report, never returned. When ctx is cancelled
// the partial report is returned together with ctx.Err().
func (e *Engine) Execute(ctx context.Context, cfg RunConfig) (*Report, error) {
	run, err := e.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer run.Close()
	return e.Supervise(ctx, run)
}

// Supervise drives a started run to its report. The caller still owns Close.
func (e *Engine) Supervise(ctx context.Context, run *Run) (*Report, error) {
	sup := newSupervisor(run.ID, run.sweeper, run.logger, e.publisher,
		withPollInterval(e.pollInterval), withProgressInterval(e.progressInterval))
	outcome, supErr := sup.Run(ctx, run.Handles, run.Config.Timeout)

	report := Collect(run)
	report.MembersElapsed = outcome.Elapsed
	run.logger.Info("members finished",
		zap.Int("completed", report.Tally.Completed),
		zap.Int("failed", report.Tally.Failed),
		zap.Int("timed_out", report.Tally.TimedOut),
		zap.Duration("elapsed", outcome.Elapsed))
	if supErr != nil {
		report.Interrupted = true
		report.TotalElapsed = e.now().Sub(run.StartTime)
		e.finish(run, report)
		return report, supErr
	}

	if run.Config.Synthesize {
		if err := e.synthesize(ctx, run, report); err != nil {
			report.TotalElapsed = e.now().Sub(run.StartTime)
			e.finish(run, report)
			return report, err
		}
	}
	report.TotalElapsed = e.now().Sub(run.StartTime)
	e.finish(run, report)
	return report, nil
}

// synthesize records the synthesis outcome in report. Only cancellation is
// returned; any other synthesis failure degrades to individual sections.
func (e *Engine) synthesize(ctx context.Context, run *Run, report *Report) error {
	if e.synthesizer == nil {
		run.logger.Warn("synthesis requested but no synthesizer configured")
		return nil
	}
	e.publish(events.Event{Type: events.SynthesisStarted, RunID: run.ID})
	start := e.now()
	text, err := e.synthesizer.Synthesize(ctx, report, run.invoker())
	report.Synthesis = &Synthesis{Text: text, Err: err, Elapsed: e.now().Sub(start)}
	report.SynthesisElapsed = report.Synthesis.Elapsed
	if err != nil {
		run.logger.Warn("synthesis failed, showing individual analyses", zap.Error(err))
		e.publish(events.Event{Type: events.SynthesisDone, RunID: run.ID, State: StateFailed.String(), Message: err.Error()})
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			report.Interrupted = true
			return ctxErr
		}
		return nil
	}
	e.publish(events.Event{Type: events.SynthesisDone, RunID: run.ID, State: StateCompleted.String()})
	return nil
}

func (e *Engine) finish(run *Run, report *Report) {
	e.publish(events.Event{
		Type:      events.RunFinished,
		RunID:     run.ID,
		Completed: report.Tally.Completed,
		Elapsed:   report.TotalElapsed,
	})
}

func (e *Engine) publish(ev events.Event) {
	e.publisher.Publish(ev)
}
