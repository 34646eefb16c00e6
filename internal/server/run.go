package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/kingrea/council/internal/config"
	"github.com/kingrea/council/internal/council"
	"github.com/kingrea/council/internal/render"
)

// RunTool handles the council_run MCP tool.
type RunTool struct {
	deps Deps
}

// NewRunTool creates a RunTool.
func NewRunTool(deps Deps) *RunTool {
	return &RunTool{deps: deps.withDefaults()}
}

// Definition returns the MCP tool definition for council_run.
func (t *RunTool) Definition() mcp.Tool {
	return mcp.NewTool("council_run",
		mcp.WithDescription(
			"Convene a council of independent agents on a task. Every member analyzes the task through one "+
				"constraint; the report combines their findings into prioritized recommendations.",
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("The task or question the council analyzes"),
		),
		mcp.WithNumber("members",
			mcp.Description("Number of council members (default from .council/config.yaml, usually 5)"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Wall-clock budget for the members in seconds"),
		),
		mcp.WithString("model",
			mcp.Description("Model passed to every member"),
		),
		mcp.WithBoolean("synthesize",
			mcp.Description("Combine the analyses into one synthesis (default true)"),
		),
		mcp.WithBoolean("all",
			mcp.Description("Include every member's analysis in the report"),
		),
		mcp.WithString("policy",
			mcp.Description("Constraint selection policy: uniform or relevance"),
		),
		mcp.WithString("mandatory",
			mcp.Description("Comma separated constraint ids every run must include"),
		),
	)
}

// Handle processes the council_run tool call.
func (t *RunTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := strings.TrimSpace(req.GetString("task", ""))
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	if t.deps.Config == nil || t.deps.Runner == nil {
		return mcp.NewToolResultError("council is not configured"), nil
	}
	overrides, err := overridesFrom(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cfg, err := t.deps.Config.RunConfig(task, overrides)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid run configuration: %v", err)), nil
	}

	t.deps.Logger.Info("council_run", zap.Int("members", cfg.Members), zap.Duration("timeout", cfg.Timeout))
	report, err := t.deps.Runner.Execute(ctx, cfg)
	if err != nil && report == nil {
		if errors.Is(err, council.ErrStartupPrecondition) {
			return mcp.NewToolResultError(fmt.Sprintf("council could not start: %v", err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("council failed: %v", err)), nil
	}

	body := render.Markdown(report)
	var sb strings.Builder
	sb.WriteString(body)
	if t.deps.Store != nil {
		path, saveErr := t.deps.Store.Save(report, []byte(body))
		if saveErr != nil {
			t.deps.Logger.Warn("save report", zap.Error(saveErr))
		} else {
			sb.WriteString(fmt.Sprintf("\n\n_Report saved to %s_\n", path))
		}
	}
	if err != nil {
		// cancelled mid-run; the partial report is still useful
		sb.WriteString(fmt.Sprintf("\n\n_Run interrupted: %v_\n", err))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func overridesFrom(req mcp.CallToolRequest) (config.Overrides, error) {
	var o config.Overrides
	args := req.GetArguments()
	if v, ok := args["members"].(float64); ok {
		n := int(v)
		o.Members = &n
	}
	if v, ok := args["timeout_seconds"].(float64); ok {
		if v <= 0 {
			return o, fmt.Errorf("'timeout_seconds' must be positive")
		}
		d := time.Duration(v * float64(time.Second))
		o.Timeout = &d
	}
	if model := strings.TrimSpace(req.GetString("model", "")); model != "" {
		o.Model = &model
	}
	if v, ok := args["synthesize"].(bool); ok {
		o.Synthesize = &v
	}
	if v, ok := args["all"].(bool); ok && v {
		display := string(council.DisplayAll)
		o.Display = &display
	}
	if policy := strings.TrimSpace(req.GetString("policy", "")); policy != "" {
		o.Policy = &policy
	}
	if raw := strings.TrimSpace(req.GetString("mandatory", "")); raw != "" {
		ids := strings.Split(raw, ",")
		o.Mandatory = &ids
	}
	return o, nil
}
