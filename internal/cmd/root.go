// Package cmd wires the cobra command tree for the ralph-ultra CLI.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	projectDir string
	debug      bool
}

// NewRootCommand creates and returns the root cobra command.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "ralph-ultra",
		Short: "Autonomous story-by-story coding agent orchestrator",
		Long: `ralph-ultra drives external command-line coding assistants inside
tmux sessions to implement a PRD story by story. Each story is verified
through its executable acceptance tests; failures retry under a bounded
policy, and cost and performance telemetry feed future model selection.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cwd, _ := os.Getwd()
	cmd.PersistentFlags().StringVarP(&flags.projectDir, "project", "p", cwd, "project directory containing prd.json")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(NewRunCommand(flags))
	cmd.AddCommand(NewPlanCommand(flags))
	cmd.AddCommand(NewQuotaCommand(flags))
	cmd.AddCommand(NewLearningCommand())
	cmd.AddCommand(NewBackupsCommand(flags))

	return cmd
}
