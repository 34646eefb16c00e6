// Package render turns council reports into plain text, markdown or styled
// terminal output.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/kingrea/council/internal/council"
)

// Format selects the output representation.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatTerminal Format = "terminal"
	FormatAuto     Format = "auto"
)

const defaultWidth = 100

// ParseFormat accepts text, markdown (md), terminal (tty) and auto.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return FormatAuto, nil
	case "text", "plain":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "terminal", "tty":
		return FormatTerminal, nil
	default:
		return "", fmt.Errorf("render: unknown format %q", raw)
	}
}

// Resolve turns FormatAuto into terminal output for TTYs and markdown
// otherwise.
func Resolve(f Format, out *os.File) Format {
	if f != FormatAuto {
		return f
	}
	if out != nil && term.IsTerminal(int(out.Fd())) {
		return FormatTerminal
	}
	return FormatMarkdown
}

// Width reports the terminal width of out, or a default.
func Width(out *os.File) int {
	if out == nil {
		return defaultWidth
	}
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 20 {
		return w
	}
	return defaultWidth
}

// Write renders r to w in format f. FormatAuto is treated as markdown.
func Write(w io.Writer, r *council.Report, f Format, width int) error {
	var out string
	switch f {
	case FormatText:
		out = Text(r)
	case FormatTerminal:
		styled, err := Terminal(r, width)
		if err != nil {
			return err
		}
		out = styled
	default:
		out = Markdown(r)
	}
	_, err := io.WriteString(w, out)
	return err
}

// Terminal renders the markdown report through glamour.
func Terminal(r *council.Report, width int) (string, error) {
	if width <= 0 {
		width = defaultWidth
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return "", fmt.Errorf("render: glamour: %w", err)
	}
	out, err := renderer.Render(Markdown(r))
	if err != nil {
		return "", fmt.Errorf("render: glamour: %w", err)
	}
	return out, nil
}

// Markdown renders the full report.
func Markdown(r *council.Report) string {
	var b strings.Builder
	b.WriteString("# Council report\n\n")
	b.WriteString("| | |\n|---|---|\n")
	row := func(k, v string) {
		if v == "" {
			return
		}
		fmt.Fprintf(&b, "| %s | %s |\n", k, strings.ReplaceAll(v, "|", `\|`))
	}
	row("Run", r.RunID)
	row("Task", oneLine(r.Task))
	row("Members", fmt.Sprint(r.Members))
	row("Timeout", r.Timeout.String())
	row("Model", valueOr(r.Model, "default"))
	row("Policy", string(r.Policy))
	row("Repository", r.Repository)
	if !r.Timestamp.IsZero() {
		row("Started", r.Timestamp.UTC().Format(time.RFC3339))
	}

	b.WriteString("\n## Assignments\n\n")
	for _, sec := range r.Sections {
		marker := ""
		if sec.Mandatory {
			marker = " (mandatory)"
		}
		fmt.Fprintf(&b, "%d. `%s`%s: %s in %s\n", sec.Member, sec.ConstraintID, marker, sec.State, seconds(sec.Duration))
	}

	if r.Interrupted {
		b.WriteString("\n> Run interrupted. Partial results follow.\n")
	}
	if r.Synthesis != nil {
		b.WriteString("\n## Synthesis & recommendations\n\n")
		if r.Synthesis.Succeeded() {
			b.WriteString(strings.TrimSpace(r.Synthesis.Text))
			b.WriteString("\n")
		} else {
			fmt.Fprintf(&b, "> Synthesis failed: %s. Individual analyses follow.\n", synthesisError(r.Synthesis))
		}
	}

	if r.ShowMembers() {
		for _, sec := range r.Sections {
			fmt.Fprintf(&b, "\n## Member #%d: %s\n\n", sec.Member, strings.ToUpper(string(sec.ConstraintID)))
			fmt.Fprintf(&b, "_%s_\n\n", statusLine(sec))
			b.WriteString(sec.Output)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "Completed %d · Failed %d · Timed out %d\n\n", r.Tally.Completed, r.Tally.Failed, r.Tally.TimedOut)
	b.WriteString(timing(r))
	b.WriteString("\n")
	return b.String()
}

// Text renders the report without markup, using rules between sections.
func Text(r *council.Report) string {
	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nCOUNCIL REPORT %s\n%s\n\n", rule, r.RunID, rule)
	fmt.Fprintf(&b, "  Task: %s\n  Members: %d\n  Timeout: %s\n  Model: %s\n", oneLine(r.Task), r.Members, r.Timeout, valueOr(r.Model, "default"))
	if r.Repository != "" {
		fmt.Fprintf(&b, "  Repository: %s\n", r.Repository)
	}
	b.WriteString("\n")
	for _, sec := range r.Sections {
		marker := ""
		if sec.Mandatory {
			marker = " (mandatory)"
		}
		fmt.Fprintf(&b, "  Member #%d: %s%s [%s]\n", sec.Member, strings.ToUpper(string(sec.ConstraintID)), marker, sec.State)
	}
	if r.Interrupted {
		b.WriteString("\n  Run interrupted. Partial results follow.\n")
	}
	if r.Synthesis != nil {
		fmt.Fprintf(&b, "\n%s\nSYNTHESIS & RECOMMENDATIONS\n%s\n\n", rule, rule)
		if r.Synthesis.Succeeded() {
			b.WriteString(strings.TrimSpace(r.Synthesis.Text))
		} else {
			fmt.Fprintf(&b, "[Synthesis failed: %s]", synthesisError(r.Synthesis))
		}
		b.WriteString("\n")
	}
	if r.ShowMembers() {
		for _, sec := range r.Sections {
			fmt.Fprintf(&b, "\n%s\n  MEMBER #%d: %s (%s)\n%s\n\n", thin, sec.Member, strings.ToUpper(string(sec.ConstraintID)), statusLine(sec), thin)
			b.WriteString(sec.Output)
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\n%s\n  Completed %d, Failed %d, Timed out %d\n  %s\n%s\n", rule, r.Tally.Completed, r.Tally.Failed, r.Tally.TimedOut, timing(r), rule)
	return b.String()
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	memberStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	mandatoryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	ruleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Preamble writes the header shown before members start: settings and the
// constraint assigned to each member.
func Preamble(w io.Writer, run *council.Run, styled bool) error {
	style := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}
	cfg := run.Config
	var b strings.Builder
	rule := style(ruleStyle, strings.Repeat("=", 60))
	fmt.Fprintf(&b, "\n%s\n%s\n%s\n\n", rule, style(titleStyle, "                    COUNCIL"), rule)
	fmt.Fprintf(&b, "  %s: %d\n", style(labelStyle, "Members"), len(run.Handles))
	fmt.Fprintf(&b, "  %s: %s\n", style(labelStyle, "Timeout"), cfg.Timeout)
	if cfg.Model != "" {
		fmt.Fprintf(&b, "  %s: %s\n", style(labelStyle, "Model"), cfg.Model)
	}
	fmt.Fprintf(&b, "  %s: %s\n", style(labelStyle, "Synthesize"), yesNo(cfg.Synthesize))
	fmt.Fprintf(&b, "  %s: %s\n", style(labelStyle, "Task"), truncate(oneLine(cfg.Task), 50))
	if run.Repository != "" {
		fmt.Fprintf(&b, "  %s: %s\n", style(labelStyle, "Repository"), run.Repository)
	}
	b.WriteString("\n")
	for _, h := range run.Handles {
		marker := ""
		if h.Assignment.Mandatory {
			marker = style(mandatoryStyle, " (mandatory)")
		}
		fmt.Fprintf(&b, "  Member #%d: %s%s\n", h.Member(), style(memberStyle, strings.ToUpper(string(h.Assignment.ConstraintID))), marker)
	}
	fmt.Fprintf(&b, "\n%s\n\n", rule)
	_, err := io.WriteString(w, b.String())
	return err
}

func statusLine(sec council.Section) string {
	parts := []string{sec.State.String()}
	if sec.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit %d", sec.ExitCode))
	}
	parts = append(parts, seconds(sec.Duration))
	if sec.Reason != "" && sec.State != council.StateCompleted {
		parts = append(parts, sec.Reason)
	}
	return strings.Join(parts, " · ")
}

func timing(r *council.Report) string {
	if r.Synthesis != nil {
		return fmt.Sprintf("Total time: %s (members: %s, synthesis: %s)", seconds(r.TotalElapsed), seconds(r.MembersElapsed), seconds(r.SynthesisElapsed))
	}
	return fmt.Sprintf("Total time: %s (members: %s)", seconds(r.TotalElapsed), seconds(r.MembersElapsed))
}

func synthesisError(s *council.Synthesis) string {
	if s.Err != nil {
		return s.Err.Error()
	}
	return "empty output"
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
