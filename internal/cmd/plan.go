package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/planner"
	"github.com/harrison/ralph-ultra/internal/prd"
	"github.com/harrison/ralph-ultra/internal/quota"
)

// NewPlanCommand creates the plan subcommand.
func NewPlanCommand(flags *rootFlags) *cobra.Command {
	var (
		mode    string
		compare bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show per-story model allocations and cost estimates",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := prd.NewStore(flags.projectDir)
			document, err := store.Load()
			if err != nil {
				return err
			}

			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}
			execMode := settings.ExecutionMode
			if mode != "" {
				execMode = models.ExecutionMode(mode)
			}

			quotaMgr := quota.NewManager(nil)
			snapshot := quotaMgr.Refresh(cmd.Context(), false)

			var source planner.LearningSource
			if dbPath, err := config.LearningDBPath(); err == nil {
				if recorder, err := learning.NewRecorder(dbPath, nil); err == nil {
					defer recorder.Close()
					source = recorder
				}
			}

			plan := planner.GeneratePlan(document, snapshot, execMode, source)
			fmt.Printf("Plan for %s (mode: %s)\n\n", document.Project, plan.Mode)
			for _, a := range plan.Stories {
				fmt.Printf("  %-10s %-20s %-28s conf %.2f  ~$%.4f (%s)\n",
					a.StoryID, a.TaskType, a.RecommendedModel.ModelID,
					a.Confidence, a.EstimatedCostUSD, a.RecommendedModel.Reason)
			}
			fmt.Printf("\nTotal estimated: $%.4f\n", plan.TotalEstimatedUSD)

			if compare {
				fmt.Println("\nMode comparison:")
				for _, c := range planner.ComparePlans(document, snapshot, source) {
					fmt.Printf("  %-14s $%.4f\n", c.Mode, c.TotalUSD)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "execution mode override")
	cmd.Flags().BoolVar(&compare, "compare", false, "show per-mode cost comparison")
	return cmd
}
