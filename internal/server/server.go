// Package server exposes the council over the Model Context Protocol so an
// agent session can convene a council and read its report as a tool result.
// It only wires tools; runs are executed by the council engine.
package server

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kingrea/council/internal/artifact"
	"github.com/kingrea/council/internal/config"
	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/council"
)

// Runner executes one council run. *council.Engine satisfies it.
type Runner interface {
	Execute(ctx context.Context, cfg council.RunConfig) (*council.Report, error)
}

// Deps are the components the tools share.
type Deps struct {
	Config  *config.Config
	Runner  Runner
	Catalog *constraint.Catalog
	// Store archives reports when non-nil.
	Store  *artifact.Store
	Logger *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// New registers every council tool on a fresh MCP server.
func New(deps Deps, version string) *server.MCPServer {
	deps = deps.withDefaults()
	s := server.NewMCPServer(
		"council",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	runTool := NewRunTool(deps)
	s.AddTool(runTool.Definition(), runTool.Handle)

	constraintsTool := NewConstraintsTool(deps.Catalog)
	s.AddTool(constraintsTool.Definition(), constraintsTool.Handle)

	if deps.Store != nil {
		reportsTool := NewReportsTool(deps.Store)
		s.AddTool(reportsTool.Definition(), reportsTool.Handle)
	}
	return s
}

// Serve blocks serving s over stdin/stdout.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `council runs several independent analyses of one task in parallel.
Each member is bound to a single analytical constraint and must stay inside it.
Call council_constraints to see the available lenses, then council_run with the
task. Runs take minutes; the result is a markdown report with a synthesis and,
when requested, every member's analysis.`
