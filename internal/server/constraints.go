package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kingrea/council/internal/constraint"
)

// ConstraintsTool handles the council_constraints MCP tool.
type ConstraintsTool struct {
	catalog *constraint.Catalog
}

// NewConstraintsTool creates a ConstraintsTool. A nil catalog lists the
// built-in constraints.
func NewConstraintsTool(catalog *constraint.Catalog) *ConstraintsTool {
	if catalog == nil {
		catalog = constraint.Builtin()
	}
	return &ConstraintsTool{catalog: catalog}
}

// Definition returns the MCP tool definition for council_constraints.
func (t *ConstraintsTool) Definition() mcp.Tool {
	return mcp.NewTool("council_constraints",
		mcp.WithDescription("List the analytical constraints council members can be bound to."),
		mcp.WithString("id",
			mcp.Description("Show the full framework text of one constraint"),
		),
	)
}

// Handle processes the council_constraints tool call.
func (t *ConstraintsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := strings.TrimSpace(req.GetString("id", "")); id != "" {
		rec, ok := t.catalog.Lookup(constraint.ID(id))
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown constraint %q", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("## %s\n\n%s\n", rec.ID, rec.Framework)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Constraints (%d)\n\n", t.catalog.Len()))
	for _, id := range t.catalog.IDs() {
		rec, _ := t.catalog.Lookup(id)
		marker := ""
		if rec.Mandatory {
			marker = " (mandatory)"
		}
		sb.WriteString(fmt.Sprintf("- **%s**%s: %s\n", rec.ID, marker, summary(rec.Framework)))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// summary returns the first line of a framework without its CONSTRAINT: label.
func summary(framework string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(framework), "\n")
	return strings.TrimSpace(strings.TrimPrefix(line, "CONSTRAINT:"))
}
