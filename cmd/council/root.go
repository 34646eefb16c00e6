package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/kingrea/council/internal/artifact"
	"github.com/kingrea/council/internal/config"
	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/council"
	"github.com/kingrea/council/internal/events"
	"github.com/kingrea/council/internal/logbook"
	"github.com/kingrea/council/internal/logging"
	"github.com/kingrea/council/internal/render"
	"github.com/kingrea/council/internal/repo"
	"github.com/kingrea/council/internal/synthesis"
	"github.com/kingrea/council/internal/tui"
	"github.com/kingrea/council/plugins"
)

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// runOptions holds the run flags. Only flags the user actually set override
// .council/config.yaml.
type runOptions struct {
	members      int
	timeout      time.Duration
	model        string
	noSynthesize bool
	all          bool
	policy       string
	mandatory    []string
	agent        string
	format       string
	save         bool
	board        bool
	eventsAddr   string
}

type globalOptions struct {
	dir     string
	verbose bool
}

func newRootCmd(s *streams) *cobra.Command {
	globals := &globalOptions{}
	opts := &runOptions{}

	root := &cobra.Command{
		Use:   "council [task]",
		Short: "Run a council of constrained agents on one task and synthesize their analyses",
		Long: `council spawns several agent processes in parallel, binds each one to a different
analytical constraint, supervises them under one wall-clock budget and turns
their outputs into a single report with an optional synthesis.

The task is taken from the arguments, or from stdin when it is "-".`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCouncil(cmd, s, globals, opts, args)
		},
	}
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.err)
	root.PersistentFlags().StringVarP(&globals.dir, "dir", "C", "", "Project directory (default: current directory)")
	root.PersistentFlags().BoolVarP(&globals.verbose, "verbose", "v", false, "Mirror debug logs to stderr")
	addRunFlags(root, opts)

	runCmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a council (same as the root command)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCouncil(cmd, s, globals, opts, args)
		},
	}
	addRunFlags(runCmd, opts)

	root.AddCommand(
		runCmd,
		newInitCmd(s, globals),
		newConstraintsCmd(s, globals),
		newReportsCmd(s, globals),
		newServeCmd(s, globals),
		newVersionCmd(s),
	)
	return root
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	f := cmd.Flags()
	f.IntVarP(&opts.members, "members", "n", council.DefaultMembers, "Number of council members")
	f.DurationVarP(&opts.timeout, "timeout", "t", council.DefaultTimeout, "Wall-clock budget for the members")
	f.StringVarP(&opts.model, "model", "m", "", "Model passed to every agent")
	f.BoolVar(&opts.noSynthesize, "no-synthesize", false, "Skip the synthesis pass")
	f.BoolVarP(&opts.all, "all", "a", false, "Show every member's analysis, not only the synthesis")
	f.StringVar(&opts.policy, "policy", "", "Constraint selection policy: uniform or relevance")
	f.StringSliceVar(&opts.mandatory, "mandatory", nil, "Constraint ids every run includes (comma separated)")
	f.StringVar(&opts.agent, "agent", "", "Agent executable (default from config, usually claude)")
	f.StringVarP(&opts.format, "format", "f", "auto", "Report format: auto, terminal, markdown or text")
	f.BoolVar(&opts.save, "save", false, "Save the report under .council/reports")
	f.BoolVar(&opts.board, "board", false, "Follow the run on a live board")
	f.StringVar(&opts.eventsAddr, "events-addr", "", "Stream run events as NDJSON over HTTP on host:port")
}

// eventSettings resolves the event stream from --events-addr and the
// COUNCIL_EVENTS_* environment.
func (o *runOptions) eventSettings() (events.Settings, error) {
	var base events.Settings
	if o.eventsAddr != "" {
		parsed, err := events.ParseAddress(o.eventsAddr)
		if err != nil {
			return events.Settings{}, fmt.Errorf("--events-addr: %w", err)
		}
		base = parsed
	}
	return events.SettingsFromEnv(base), nil
}

// overrides converts the flags the user set into config overrides.
func (o *runOptions) overrides(cmd *cobra.Command, workDir string) config.Overrides {
	changed := cmd.Flags().Changed
	ov := config.Overrides{WorkDir: workDir}
	if changed("members") {
		ov.Members = &o.members
	}
	if changed("timeout") {
		ov.Timeout = &o.timeout
	}
	if changed("model") {
		ov.Model = &o.model
	}
	if changed("no-synthesize") {
		synth := !o.noSynthesize
		ov.Synthesize = &synth
	}
	if changed("all") && o.all {
		display := string(council.DisplayAll)
		ov.Display = &display
	}
	if changed("policy") {
		ov.Policy = &o.policy
	}
	if changed("mandatory") {
		ov.Mandatory = &o.mandatory
	}
	if changed("agent") {
		ov.Agent = &o.agent
	}
	return ov
}

// project bundles what every command needs from the project directory.
type project struct {
	dir     string
	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
	catalog *constraint.Catalog
	plugins []plugins.DefinitionFile
}

func openProject(globals *globalOptions, stderr io.Writer) (*project, error) {
	dir := globals.dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", globals.dir, err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}
	var logOpts []logging.Option
	if globals.verbose {
		logOpts = append(logOpts, logging.WithConsole(zapcore.Lock(zapcore.AddSync(stderr)), true))
	}
	logger, err := logging.New(dir, logOpts...)
	if err != nil {
		return nil, err
	}
	p := &project{dir: dir, cfg: cfg, logger: logger}
	if lb, err := logbook.New(cfg.JournalPath()); err == nil {
		p.journal = lb
	} else {
		logger.Zap().Warn("journal unavailable", zap.Error(err))
	}
	catalog, defs, err := plugins.LoadCatalog(constraint.Builtin(), cfg.ConstraintsDir())
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("%w: %w", council.ErrStartupPrecondition, err)
	}
	p.catalog = catalog
	p.plugins = defs
	if len(defs) > 0 {
		logger.Zap().Info("constraint plugins loaded", zap.Int("count", len(defs)))
	}
	return p, nil
}

func (p *project) Close() {
	_ = p.logger.Close()
}

func (p *project) engine(pub events.Publisher) *council.Engine {
	return council.NewEngine(p.catalog,
		council.WithLogger(p.logger.Zap()),
		council.WithPublisher(pub),
		council.WithSynthesizer(synthesis.New(p.logger.Zap())),
		council.WithRepositoryInfo(repo.Describe),
	)
}

func readTask(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read task from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}

func runCouncil(cmd *cobra.Command, s *streams, globals *globalOptions, opts *runOptions, args []string) error {
	task, err := readTask(args, s.in)
	if err != nil {
		return err
	}
	if task == "" {
		return fmt.Errorf("%w: a task is required (council \"task\" or council -)", council.ErrStartupPrecondition)
	}
	format, err := render.ParseFormat(opts.format)
	if err != nil {
		return fmt.Errorf("%w: %w", council.ErrStartupPrecondition, err)
	}

	p, err := openProject(globals, s.err)
	if err != nil {
		return err
	}
	defer p.Close()
	log := p.logger.Zap()

	rc, err := p.cfg.RunConfig(task, opts.overrides(cmd, p.dir))
	if err != nil {
		return fmt.Errorf("%w: %w", council.ErrStartupPrecondition, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamSettings, err := opts.eventSettings()
	if err != nil {
		return fmt.Errorf("%w: %w", council.ErrStartupPrecondition, err)
	}
	router := events.NewRouter(events.WithLogger(p.logger))
	var stream *events.Server
	if streamSettings.Enabled {
		stream = events.NewServer(streamSettings, router, events.WithServerLogger(p.logger))
		if err := stream.Start(ctx); err != nil {
			log.Warn("event stream unavailable", zap.Error(err))
			stream = nil
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := stream.Shutdown(shutdownCtx); err != nil {
					log.Warn("event stream shutdown", zap.Error(err))
				}
			}()
		}
	}

	engine := p.engine(router)
	run, err := engine.Start(ctx, rc)
	if err != nil {
		p.journal.Error("council could not start: %v", err)
		return err
	}
	defer run.Close()
	if stream != nil {
		fmt.Fprintf(s.err, "Streaming events on %s/events?run=%s\n", stream.BaseURL(), run.ID)
	}
	journal := p.journal.ForRun(run.ID)
	journal.Info("started · %d members · %s", len(run.Handles), oneLine(task, 60))

	outFile, _ := s.out.(*os.File)
	errFile, _ := s.err.(*os.File)
	styled := errFile != nil && term.IsTerminal(int(errFile.Fd()))

	var report *council.Report
	var runErr error
	if opts.board && styled {
		report, runErr = superviseWithBoard(ctx, engine, run, router, p.journal, s)
	} else {
		if err := render.Preamble(s.err, run, styled); err != nil {
			log.Warn("write preamble", zap.Error(err))
		}
		sub := router.Subscribe(run.ID)
		followed := make(chan struct{})
		go func() {
			defer close(followed)
			followProgress(s.err, sub.Events, len(run.Handles))
		}()
		report, runErr = engine.Supervise(ctx, run)
		sub.Close()
		<-followed
	}
	router.Forget(run.ID)

	if report != nil {
		resolved := render.Resolve(format, outFile)
		if err := render.Write(s.out, report, resolved, render.Width(outFile)); err != nil {
			log.Warn("write report", zap.Error(err))
		}
		if opts.save || p.cfg.Project.Reports.Save {
			store := artifact.NewStore(p.cfg.ReportsDir())
			path, err := store.Save(report, []byte(render.Markdown(report)))
			if err != nil {
				log.Warn("save report", zap.Error(err))
				fmt.Fprintf(s.err, "warning: report not saved: %v\n", err)
			} else {
				fmt.Fprintf(s.err, "Report saved to %s\n", path)
			}
		}
		journal.Info("finished · %d completed · %d failed · %d timed out · %.1fs",
			report.Tally.Completed, report.Tally.Failed, report.Tally.TimedOut, report.TotalElapsed.Seconds())
	}
	if runErr != nil {
		journal.Warn("interrupted: %v", runErr)
		return runErr
	}
	return nil
}

// superviseWithBoard drives the run in the background while the live board
// owns the terminal. ctrl+c on the board cancels the run the same way SIGINT
// does without it.
func superviseWithBoard(ctx context.Context, engine *council.Engine, run *council.Run, router *events.Router, journal *logbook.Logbook, s *streams) (*council.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := router.Subscribe(run.ID)
	defer sub.Close()

	type result struct {
		report *council.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := engine.Supervise(runCtx, run)
		done <- result{report, err}
	}()

	board := tui.NewBoard(run, sub.Events, tui.WithLogbook(journal), tui.WithInterrupt(cancel))
	if err := tui.Run(context.Background(), board, s.in, s.err); err != nil {
		fmt.Fprintf(s.err, "board closed: %v\n", err)
	}
	res := <-done
	return res.report, res.err
}

// followProgress prints one line per member exit and periodic progress until
// the stream closes or the run finishes.
func followProgress(w io.Writer, stream <-chan events.Event, total int) {
	for ev := range stream {
		switch ev.Type {
		case events.MemberExited:
			line := fmt.Sprintf("  Member #%d (%s) %s in %.1fs", ev.Member, ev.ConstraintID, ev.State, ev.Elapsed.Seconds())
			if ev.Message != "" && ev.State != council.StateCompleted.String() {
				line += ": " + oneLine(ev.Message, 60)
			}
			fmt.Fprintln(w, line)
		case events.Progress:
			fmt.Fprintf(w, "  ... %d/%d finished, %s elapsed\n", ev.Completed, total, ev.Elapsed.Round(time.Second))
		case events.DeadlineReached:
			fmt.Fprintf(w, "  Deadline of %s reached, stopping %d member(s)\n", ev.Message, ev.Running)
		case events.SynthesisStarted:
			fmt.Fprintln(w, "\n  Synthesizing...")
		case events.SynthesisDone:
			if ev.State != council.StateCompleted.String() {
				fmt.Fprintf(w, "  Synthesis failed: %s\n", oneLine(ev.Message, 80))
			}
		case events.RunFinished:
			fmt.Fprintln(w)
			return
		}
	}
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); limit > 3 && len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}
