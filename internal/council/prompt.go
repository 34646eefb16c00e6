package council

import (
	"fmt"
	"strings"

	"github.com/kingrea/council/internal/constraint"
)

// BuildPrompt composes the instruction payload for one member: council
// preamble, constraint framework, the task and the output rules.
func BuildPrompt(rec constraint.Record, task string, members int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a council member analyzing with a specific constraint. There are %d council members, each with different orthogonal constraints.\n\n", members)
	b.WriteString(strings.TrimSpace(rec.Framework))
	b.WriteString("\n\nYOUR TASK:\n")
	b.WriteString(strings.TrimSpace(task))
	b.WriteString("\n\nRULES:\n")
	b.WriteString("- Work read-only. Inspect files and run read-only commands; do not modify, create or delete anything.\n")
	fmt.Fprintf(&b, "- Label every insight with [%s].\n", rec.ID)
	b.WriteString("\nYOUR OUTPUT REQUIREMENTS:\n")
	b.WriteString("1. Executive summary (2-3 sentences) from your constraint's perspective ONLY\n")
	fmt.Fprintf(&b, "2. Findings: detailed analysis with specific insights labeled [%s]\n", rec.ID)
	b.WriteString("3. Recommendations with file paths and line numbers where applicable\n")
	b.WriteString("4. Risks and trade-offs within your constraint area\n")
	b.WriteString("\nQuality over quantity - 5 constraint-specific insights > 20 generic observations.\n")
	b.WriteString("If your analysis could come from any other constraint, you're doing it WRONG.")
	return b.String()
}

// agentArgs is the argument vector passed to the agent executable.
func agentArgs(prompt, model string) []string {
	args := []string{"-p", prompt, "--output-format", "text", "--dangerously-skip-permissions"}
	if model != "" {
		args = append(args, "--model", model)
	}
	return args
}
