package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/council/internal/council"
)

type fakeInvoker struct {
	calls   int
	prompts []string
	out     string
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, label, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

func threeMemberReport() *council.Report {
	return &council.Report{
		Task: "speed up the build",
		Sections: []council.Section{
			{Member: 1, ConstraintID: "the_goal_goldratt", State: council.StateCompleted, Output: "bottleneck is linking"},
			{Member: 2, ConstraintID: "urgency_musk", State: council.StateCompleted, Output: "delete the codegen step"},
			{Member: 3, ConstraintID: "cache_acton", State: council.StateCompleted, Output: "cache misses everywhere"},
		},
	}
}

func TestSynthesizeSingleInvocationOverAllSections(t *testing.T) {
	agent := &fakeInvoker{out: "  ONE PLAN  \n"}
	text, err := New(nil).Synthesize(context.Background(), threeMemberReport(), agent)
	require.NoError(t, err)
	assert.Equal(t, "ONE PLAN", text)
	require.Equal(t, 1, agent.calls)

	prompt := agent.prompts[0]
	assert.Contains(t, prompt, "insights from 3 council members")
	assert.Contains(t, prompt, "ORIGINAL TASK:\nspeed up the build")
	for i, want := range []string{"MEMBER #1: THE_GOAL_GOLDRATT", "MEMBER #2: URGENCY_MUSK", "MEMBER #3: CACHE_ACTON"} {
		assert.Contains(t, prompt, want)
		assert.Contains(t, prompt, threeMemberReport().Sections[i].Output)
	}
	assert.Equal(t, 6, strings.Count(prompt, banner))
	assert.Contains(t, prompt, "P0/P1/P2")
	assert.Contains(t, prompt, "IMPLEMENTATION ROADMAP")
}

func TestSynthesizeFailures(t *testing.T) {
	cases := map[string]struct {
		agent  *fakeInvoker
		report *council.Report
	}{
		"agent error":  {&fakeInvoker{err: council.ErrWorkerTimeout}, threeMemberReport()},
		"empty output": {&fakeInvoker{out: " \n"}, threeMemberReport()},
		"no sections":  {&fakeInvoker{out: "x"}, &council.Report{Task: "t"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(nil).Synthesize(context.Background(), tc.report, tc.agent)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSynthesis))
		})
	}
	_, err := New(nil).Synthesize(context.Background(), threeMemberReport(), &fakeInvoker{err: council.ErrWorkerTimeout})
	assert.ErrorIs(t, err, council.ErrWorkerTimeout)
}
