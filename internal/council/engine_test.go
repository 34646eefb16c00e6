//go:build unix

package council

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/events"
)

const (
	// Echoes its constraint label and exits 0.
	okAgent = `#!/bin/sh
label=$(printf '%s' "$2" | grep -o '\[[a-z_]*\]' | head -n 1)
echo "analysis $label"
`
	// Member "b" fails, everyone else succeeds.
	failBAgent = `#!/bin/sh
case "$2" in
*"[b]"*) echo "crashed" >&2; exit 1 ;;
esac
echo "fine"
`
	// Never finishes on its own.
	slowAgent = `#!/bin/sh
echo "started"
sleep 30
`
	// Exits 0 but leaves a child behind in its process group.
	orphanAgent = `#!/bin/sh
sleep 30 </dev/null >/dev/null 2>&1 &
echo "left a child"
`
	// Ignores SIGTERM so the sweep must escalate.
	stubbornAgent = `#!/bin/sh
trap '' TERM
echo "holding on"
while true; do sleep 0.05; done
`
)

func writeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func abcCatalog(t *testing.T) *constraint.Catalog {
	t.Helper()
	c, err := constraint.NewCatalog(
		constraint.Record{ID: "a", Framework: "CONSTRAINT: a"},
		constraint.Record{ID: "b", Framework: "CONSTRAINT: b"},
		constraint.Record{ID: "c", Framework: "CONSTRAINT: c"},
	)
	require.NoError(t, err)
	return c
}

func testEngine(t *testing.T, catalog *constraint.Catalog, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithScratchRoot(t.TempDir()),
		withIntervals(10*time.Millisecond, 50*time.Millisecond),
		withWaitDelay(200 * time.Millisecond),
	}
	return NewEngine(catalog, append(base, opts...)...)
}

func testConfig(agent string, members int, mandatory ...constraint.ID) RunConfig {
	return RunConfig{
		Task:        "inspect the repository",
		Members:     members,
		Timeout:     10 * time.Second,
		Mandatory:   mandatory,
		Agent:       agent,
		GracePeriod: 300 * time.Millisecond,
	}
}

func assertGroupsGone(t *testing.T, pgids []int) {
	t.Helper()
	for _, pgid := range pgids {
		assert.Eventually(t, func() bool { return !groupAlive(pgid) }, 2*time.Second, 20*time.Millisecond,
			"process group %d still alive", pgid)
	}
}

func sectionIDs(r *Report) []constraint.ID {
	ids := make([]constraint.ID, len(r.Sections))
	for i, s := range r.Sections {
		ids[i] = s.ConstraintID
	}
	return ids
}

func TestExecuteAllMembersComplete(t *testing.T) {
	engine := testEngine(t, abcCatalog(t))
	report, err := engine.Execute(context.Background(), testConfig(writeAgent(t, okAgent), 3))
	require.NoError(t, err)

	require.Len(t, report.Sections, 3)
	for i, sec := range report.Sections {
		assert.Equal(t, i+1, sec.Member)
		assert.Equal(t, StateCompleted, sec.State)
		assert.Equal(t, "analysis ["+string(sec.ConstraintID)+"]", sec.Output)
	}
	assert.ElementsMatch(t, []constraint.ID{"a", "b", "c"}, sectionIDs(report))
	assert.Equal(t, Tally{Completed: 3}, report.Tally)
	assert.Nil(t, report.Synthesis)
	assert.True(t, report.ShowMembers())
	assert.NotEmpty(t, report.RunID)
}

func TestExecuteRecordsFailedMember(t *testing.T) {
	engine := testEngine(t, abcCatalog(t))
	report, err := engine.Execute(context.Background(), testConfig(writeAgent(t, failBAgent), 2, "a", "b"))
	require.NoError(t, err, "member failures never fail the batch")

	if diff := cmp.Diff([]constraint.ID{"a", "b"}, sectionIDs(report)); diff != "" {
		t.Fatalf("section order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateCompleted, report.Sections[0].State)
	assert.Equal(t, StateFailed, report.Sections[1].State)
	assert.Equal(t, 1, report.Sections[1].ExitCode)
	assert.Equal(t, "crashed", report.Sections[1].Output, "partial output of failed members is kept")
	assert.Equal(t, Tally{Completed: 1, Failed: 1}, report.Tally)
}

func TestExecuteTimeoutSweepsEveryGroupOnce(t *testing.T) {
	term := newRecordingTerminator(GroupTerminator{Grace: 300 * time.Millisecond})
	engine := testEngine(t, abcCatalog(t), WithTerminator(term))
	cfg := testConfig(writeAgent(t, slowAgent), 2)
	cfg.Timeout = 500 * time.Millisecond

	run, err := engine.Start(context.Background(), cfg)
	require.NoError(t, err)
	pgids := []int{run.Handles[0].PGID, run.Handles[1].PGID}

	start := time.Now()
	report, err := engine.Supervise(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, run.Close())
	assert.Less(t, time.Since(start), 3*time.Second)

	for _, sec := range report.Sections {
		assert.Equal(t, StateTimedOut, sec.State)
		assert.Equal(t, "started", sec.Output)
	}
	assert.Equal(t, Tally{TimedOut: 2}, report.Tally)
	sweeps, groups := term.counts()
	assert.Equal(t, 1, sweeps)
	assert.Equal(t, map[int]int{pgids[0]: 1, pgids[1]: 1}, groups)
	assertGroupsGone(t, pgids)
	_, statErr := os.Stat(run.ScratchDir())
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "scratch dir removed on close")
}

func TestSweepEscalatesToKill(t *testing.T) {
	engine := testEngine(t, abcCatalog(t))
	cfg := testConfig(writeAgent(t, stubbornAgent), 1)
	cfg.Timeout = 200 * time.Millisecond
	cfg.GracePeriod = 200 * time.Millisecond

	run, err := engine.Start(context.Background(), cfg)
	require.NoError(t, err)
	pgid := run.Handles[0].PGID
	report, err := engine.Supervise(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, run.Close())

	assert.Equal(t, StateTimedOut, report.Sections[0].State)
	assertGroupsGone(t, []int{pgid})
}

func TestExecuteInterrupted(t *testing.T) {
	rec := &eventRecorder{}
	engine := testEngine(t, abcCatalog(t), WithPublisher(rec))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := engine.Start(ctx, testConfig(writeAgent(t, slowAgent), 3))
	require.NoError(t, err)
	pgids := make([]int, 0, len(run.Handles))
	for _, h := range run.Handles {
		pgids = append(pgids, h.PGID)
	}
	time.AfterFunc(200*time.Millisecond, cancel)
	report, err := engine.Supervise(ctx, run)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, run.Close())

	assert.True(t, report.Interrupted)
	for _, sec := range report.Sections {
		assert.Equal(t, StateFailed, sec.State)
		assert.Equal(t, "interrupted", sec.Reason)
	}
	assertGroupsGone(t, pgids)
	assert.Len(t, rec.ofType(events.MemberStarted), 3)
	assert.Len(t, rec.ofType(events.RunFinished), 1)
}

type fakeSynthesizer struct {
	calls    int
	got      *Report
	useAgent bool
	err      error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, report *Report, agent Invoker) (string, error) {
	f.calls++
	f.got = report
	if f.err != nil {
		return "", f.err
	}
	if f.useAgent {
		return agent.Invoke(ctx, "synthesis", "[synthesis] consolidate")
	}
	var b strings.Builder
	for _, s := range report.Sections {
		b.WriteString(string(s.ConstraintID))
	}
	return "CONSOLIDATED " + b.String(), nil
}

func TestExecuteWithSynthesis(t *testing.T) {
	synth := &fakeSynthesizer{useAgent: true}
	engine := testEngine(t, abcCatalog(t), WithSynthesizer(synth))
	cfg := testConfig(writeAgent(t, okAgent), 3)
	cfg.Synthesize = true

	report, err := engine.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, synth.calls)
	require.Len(t, synth.got.Sections, 3)
	require.NotNil(t, report.Synthesis)
	assert.True(t, report.Synthesis.Succeeded())
	assert.Equal(t, "analysis [synthesis]", report.Synthesis.Text)
	assert.False(t, report.ShowMembers(), "synthesis display hides member sections")
}

func TestExecuteSynthesisFailureDegrades(t *testing.T) {
	synth := &fakeSynthesizer{err: errors.New("agent exploded")}
	engine := testEngine(t, abcCatalog(t), WithSynthesizer(synth))
	cfg := testConfig(writeAgent(t, okAgent), 2)
	cfg.Synthesize = true

	report, err := engine.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, report.Synthesis)
	assert.EqualError(t, report.Synthesis.Err, "agent exploded")
	assert.True(t, report.ShowMembers())
	assert.Equal(t, Tally{Completed: 2}, report.Tally)
}

func TestInvokeReportsFailures(t *testing.T) {
	engine := testEngine(t, abcCatalog(t))
	run, err := engine.Start(context.Background(), testConfig(writeAgent(t, failBAgent), 1, "a"))
	require.NoError(t, err)
	defer run.Close()
	_, err = engine.Supervise(context.Background(), run)
	require.NoError(t, err)

	_, err = run.invoker().Invoke(context.Background(), "synthesis", "contains [b]")
	assert.ErrorIs(t, err, ErrWorkerFailure)
	out, err := run.invoker().Invoke(context.Background(), "synthesis", "plain")
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
}

func TestStartPreconditions(t *testing.T) {
	agent := writeAgent(t, okAgent)
	engine := testEngine(t, abcCatalog(t))
	cases := map[string]struct {
		cfg  RunConfig
		want error
	}{
		"missing agent":    {testConfig("council-test-no-such-agent", 1), ErrAgentNotFound},
		"too many":         {testConfig(agent, 4), constraint.ErrInsufficientConstraints},
		"zero members":     {testConfig(agent, 0), constraint.ErrInvalidMemberCount},
		"unknown mandate":  {testConfig(agent, 2, "zzz"), constraint.ErrUnknownConstraint},
		"mandate overflow": {testConfig(agent, 1, "a", "b"), constraint.ErrTooManyMandatory},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			run, err := engine.Start(context.Background(), tc.cfg)
			require.Error(t, err)
			assert.Nil(t, run)
			assert.ErrorIs(t, err, ErrStartupPrecondition)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRunCloseSweepsOnce(t *testing.T) {
	term := newRecordingTerminator(GroupTerminator{Grace: 200 * time.Millisecond})
	engine := testEngine(t, abcCatalog(t), WithTerminator(term))
	run, err := engine.Start(context.Background(), testConfig(writeAgent(t, okAgent), 2))
	require.NoError(t, err)
	_, err = engine.Supervise(context.Background(), run)
	require.NoError(t, err)
	assert.False(t, run.Swept())

	require.NoError(t, run.Close())
	require.NoError(t, run.Close())
	assert.True(t, run.Swept())
	sweeps, _ := term.counts()
	assert.Equal(t, 1, sweeps)
}

func TestRunCloseSkipsGroupsEmptiedAtExit(t *testing.T) {
	var mu sync.Mutex
	var swept [][]int
	term := TerminatorFunc(func(pgids []int) error {
		mu.Lock()
		swept = append(swept, append([]int(nil), pgids...))
		mu.Unlock()
		return GroupTerminator{Grace: 200 * time.Millisecond}.Terminate(pgids)
	})
	engine := testEngine(t, abcCatalog(t), WithTerminator(term))
	run, err := engine.Start(context.Background(), testConfig(writeAgent(t, okAgent), 2))
	require.NoError(t, err)
	_, err = engine.Supervise(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, run.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, swept, 1)
	assert.Empty(t, swept[0], "groups that were empty at exit are not signalled")
}

func TestRunCloseSweepsOrphanedChildren(t *testing.T) {
	term := newRecordingTerminator(GroupTerminator{Grace: 200 * time.Millisecond})
	engine := testEngine(t, abcCatalog(t), WithTerminator(term))
	run, err := engine.Start(context.Background(), testConfig(writeAgent(t, orphanAgent), 1))
	require.NoError(t, err)
	pgid := run.Handles[0].PGID

	report, err := engine.Supervise(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, report.Sections[0].State)
	require.True(t, groupAlive(pgid), "the orphan keeps the group alive")

	require.NoError(t, run.Close())
	_, groups := term.counts()
	assert.Equal(t, map[int]int{pgid: 1}, groups)
	assertGroupsGone(t, []int{pgid})
}
