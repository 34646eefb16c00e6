package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/council/internal/artifact"
	"github.com/kingrea/council/internal/config"
	"github.com/kingrea/council/internal/constraint"
	"github.com/kingrea/council/internal/server"
)

func newInitCmd(s *streams, globals *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .council/ with a default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(globals, s.err)
			if err != nil {
				return err
			}
			defer p.Close()
			if err := config.InitCouncilDir(p.dir); err != nil {
				return fmt.Errorf("initialize %s: %w", config.CouncilDir, err)
			}
			p.journal.Info("project initialized")
			fmt.Fprintf(s.out, "Initialized %s\n", p.cfg.CouncilProjectDir)
			fmt.Fprintf(s.out, "  config:      %s\n", p.cfg.ProjectConfigPath())
			fmt.Fprintf(s.out, "  constraints: %s\n", p.cfg.ConstraintsDir())
			return nil
		},
	}
}

func newConstraintsCmd(s *streams, globals *globalOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "constraints [id]",
		Short: "List the constraints members can be bound to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(globals, s.err)
			if err != nil {
				return err
			}
			defer p.Close()
			if len(args) == 1 {
				rec, ok := p.catalog.Lookup(constraint.ID(args[0]))
				if !ok {
					return fmt.Errorf("%w: %s", constraint.ErrUnknownConstraint, args[0])
				}
				fmt.Fprintf(s.out, "%s\n\n%s\n", rec.ID, rec.Framework)
				return nil
			}
			sources := map[string]string{}
			for _, def := range p.plugins {
				sources[def.Definition.ID] = def.Path
			}
			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMANDATORY\tSOURCE\tSUMMARY")
			for _, id := range p.catalog.IDs() {
				rec, _ := p.catalog.Lookup(id)
				source := "builtin"
				if path, ok := sources[string(id)]; ok {
					source = path
				}
				summary := firstLine(rec.Framework)
				if verbose {
					summary = strings.Join(strings.Fields(rec.Framework), " ")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, yesNo(rec.Mandatory), source, summary)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&verbose, "long", "l", false, "Print the whole framework text")
	return cmd
}

func newReportsCmd(s *streams, globals *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reports",
		Short: "List reports saved with --save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(globals, s.err)
			if err != nil {
				return err
			}
			defer p.Close()
			metas, err := artifact.NewStore(p.cfg.ReportsDir()).List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(s.out, "No saved reports.")
				return nil
			}
			tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tRUN\tMEMBERS\tOK\tFAILED\tTIMED OUT\tTASK")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					m.CreatedAt.Local().Format(time.DateTime), shortRun(m.RunID), m.Members,
					m.Completed, m.Failed, m.TimedOut, oneLine(m.Task, 50))
			}
			return tw.Flush()
		},
	}
}

func newServeCmd(s *streams, globals *globalOptions) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve council runs as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(globals, s.err)
			if err != nil {
				return err
			}
			defer p.Close()
			deps := server.Deps{
				Config:  p.cfg,
				Runner:  p.engine(nil),
				Catalog: p.catalog,
				Logger:  p.logger.Zap(),
			}
			if save || p.cfg.Project.Reports.Save {
				deps.Store = artifact.NewStore(p.cfg.ReportsDir())
			}
			p.journal.Info("mcp server starting")
			return server.Serve(server.New(deps, version))
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Save every report under .council/reports")
	return cmd
}

func newVersionCmd(s *streams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the council version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(s.out, "council version %s\n", version)
		},
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(strings.TrimPrefix(line, "CONSTRAINT:"))
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
