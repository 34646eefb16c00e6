// Package synthesis consolidates the member sections of a council report
// into one prioritized recommendation by running a second agent pass.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/council/internal/council"
)

// ErrSynthesis wraps every failure of the consolidation pass. The report it
// was meant for stays valid.
var ErrSynthesis = errors.New("synthesis: failed")

const banner = "═══════════════════════════════════════════════════════════════"

// Synthesizer implements council.Synthesizer.
type Synthesizer struct {
	logger *zap.Logger
}

// New returns a Synthesizer that logs to logger.
func New(logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{logger: logger}
}

var _ council.Synthesizer = (*Synthesizer)(nil)

// Synthesize makes exactly one agent invocation over the concatenated member
// sections and returns its text.
func (s *Synthesizer) Synthesize(ctx context.Context, report *council.Report, agent council.Invoker) (string, error) {
	if report == nil || len(report.Sections) == 0 {
		return "", fmt.Errorf("%w: no member sections", ErrSynthesis)
	}
	prompt := BuildPrompt(report.Task, report.Sections)
	s.logger.Info("synthesis starting", zap.Int("sections", len(report.Sections)), zap.Int("prompt_bytes", len(prompt)))
	text, err := agent.Invoke(ctx, "synthesis", prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty output", ErrSynthesis)
	}
	return text, nil
}

// BuildPrompt embeds every section under a banner naming the member and its
// constraint, followed by the consolidation instructions.
func BuildPrompt(task string, sections []council.Section) string {
	var analyses strings.Builder
	for i, sec := range sections {
		if i > 0 {
			analyses.WriteString("\n\n")
		}
		fmt.Fprintf(&analyses, "%s\nMEMBER #%d: %s (%s)\n%s\n\n%s",
			banner, sec.Member, strings.ToUpper(string(sec.ConstraintID)), sec.State, banner, sec.Output)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a master synthesizer analyzing insights from %d council members who each analyzed through different constraints.\n\n", len(sections))
	b.WriteString("YOUR TASK:\nSynthesize the following analyses into ONE coherent, actionable recommendation.\n\n")
	b.WriteString("ORIGINAL TASK:\n")
	b.WriteString(strings.TrimSpace(task))
	b.WriteString("\n\nCOUNCIL ANALYSES:\n")
	b.WriteString(analyses.String())
	b.WriteString(instructions)
	return b.String()
}

const instructions = `

YOUR SYNTHESIS REQUIREMENTS:

1. EXECUTIVE SUMMARY (3-4 sentences)
   - What's the core issue?
   - What's the recommended solution?
   - What's the expected impact?

2. CONSOLIDATED FINDINGS
   - Identify common themes across multiple constraints
   - Highlight unique insights from specific constraints
   - Resolve any conflicting recommendations (explain which to prioritize and why)

3. PRIORITIZED ACTION PLAN
   - List specific changes in priority order (P0/P1/P2)
   - For each item: file:line, what to change, why, expected impact
   - Include concrete code snippets where applicable

4. RISKS & TRADE-OFFS
   - What are we trading off?
   - What could go wrong?
   - How to mitigate?

5. IMPLEMENTATION ROADMAP
   - What order to tackle changes?
   - What dependencies exist?

Be concise but specific. The goal is ONE clear path forward, not multiple options.
Focus on ACTIONABLE recommendations with clear next steps.`
