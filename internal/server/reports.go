package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kingrea/council/internal/artifact"
)

const defaultReportLimit = 10

// ReportsTool handles the council_reports MCP tool.
type ReportsTool struct {
	store *artifact.Store
}

// NewReportsTool creates a ReportsTool.
func NewReportsTool(store *artifact.Store) *ReportsTool {
	return &ReportsTool{store: store}
}

// Definition returns the MCP tool definition for council_reports.
func (t *ReportsTool) Definition() mcp.Tool {
	return mcp.NewTool("council_reports",
		mcp.WithDescription("List saved council reports, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of reports to list (default 10)"),
		),
	)
}

// Handle processes the council_reports tool call.
func (t *ReportsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := defaultReportLimit
	if v, ok := req.GetArguments()["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	metas, err := t.store.List()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reports: %v", err)), nil
	}
	if len(metas) == 0 {
		return mcp.NewToolResultText("No saved reports."), nil
	}
	if len(metas) > limit {
		metas = metas[:limit]
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Saved reports (%s)\n\n", t.store.Dir()))
	for _, m := range metas {
		synth := "no synthesis"
		if m.Synthesized {
			synth = "synthesized"
		}
		sb.WriteString(fmt.Sprintf("- %s · %d members (%d ok, %d failed, %d timed out) · %s · %s\n",
			m.CreatedAt.UTC().Format(time.RFC3339), m.Members, m.Completed, m.Failed, m.TimedOut, synth, oneLine(m.Task)))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
