package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/models"
)

// NewLearningCommand creates the learning subcommand group.
func NewLearningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Inspect or clear the model performance history",
	}

	cmd.AddCommand(newLearningShowCommand())
	cmd.AddCommand(newLearningStatsCommand())
	cmd.AddCommand(newLearningBestCommand())
	cmd.AddCommand(newLearningClearCommand())
	return cmd
}

func openRecorder() (*learning.Recorder, error) {
	dbPath, err := config.LearningDBPath()
	if err != nil {
		return nil, err
	}
	return learning.NewRecorder(dbPath, nil)
}

func newLearningShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show aggregates per model and task type",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer recorder.Close()

			aggregates, err := recorder.AllAggregates()
			if err != nil {
				return err
			}
			if len(aggregates) == 0 {
				fmt.Println("no learning data recorded yet")
				return nil
			}

			fmt.Printf("%-28s %-20s %5s %7s %7s %7s\n", "MODEL", "TASK", "RUNS", "SUCC", "SCORE", "$AVG")
			for _, a := range aggregates {
				fmt.Printf("%-28s %-20s %5d %6.0f%% %7.1f %7.4f\n",
					fmt.Sprintf("%s:%s", a.Provider, a.ModelID), a.TaskType,
					a.TotalRuns, a.SuccessRate*100, a.OverallScore, a.AvgCostUSD)
			}
			return nil
		},
	}
}

func newLearningStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show overall learning statistics",
		Long: `Display summary statistics across the performance history:
  - Total and successful runs
  - Models and task types covered
  - Average cost and AC pass rate
  - Best model per task type`,
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer recorder.Close()

			aggregates, err := recorder.AllAggregates()
			if err != nil {
				return err
			}
			output := cmd.OutOrStdout()
			if len(aggregates) == 0 {
				fmt.Fprintln(output, "no execution data recorded yet")
				return nil
			}

			var totalRuns, successfulRuns int
			var costWeighted, passWeighted float64
			seenModels := make(map[string]bool)
			taskTypes := make(map[models.TaskType][]models.ModelLearning)
			for _, a := range aggregates {
				totalRuns += a.TotalRuns
				successfulRuns += a.SuccessfulRuns
				costWeighted += a.AvgCostUSD * float64(a.TotalRuns)
				passWeighted += a.AvgACPassRate * float64(a.TotalRuns)
				seenModels[string(a.Provider)+":"+a.ModelID] = true
				taskTypes[a.TaskType] = append(taskTypes[a.TaskType], a)
			}

			bold := color.New(color.Bold)
			bold.Fprintln(output, "=== Learning Statistics ===")
			fmt.Fprintf(output, "Total runs:       %d\n", totalRuns)
			fmt.Fprintf(output, "Successful runs:  %d (%.0f%%)\n",
				successfulRuns, float64(successfulRuns)/float64(totalRuns)*100)
			fmt.Fprintf(output, "Models seen:      %d\n", len(seenModels))
			fmt.Fprintf(output, "Task types:       %d\n", len(taskTypes))
			fmt.Fprintf(output, "Avg cost per run: $%.4f\n", costWeighted/float64(totalRuns))
			fmt.Fprintf(output, "Avg AC pass rate: %.0f%%\n", passWeighted/float64(totalRuns)*100)

			bold.Fprintln(output, "\nBest model per task type:")
			names := make([]string, 0, len(taskTypes))
			for tt := range taskTypes {
				names = append(names, string(tt))
			}
			sort.Strings(names)
			for _, name := range names {
				entries := taskTypes[models.TaskType(name)]
				best := entries[0]
				for _, a := range entries[1:] {
					if a.OverallScore > best.OverallScore {
						best = a
					}
				}
				fmt.Fprintf(output, "  %-20s %s:%s (score %.1f, %d runs)\n",
					name, best.Provider, best.ModelID, best.OverallScore, best.TotalRuns)
			}
			return nil
		},
	}
}

func newLearningBestCommand() *cobra.Command {
	var minRuns int

	cmd := &cobra.Command{
		Use:   "best <task-type>",
		Short: "Show the best model for a task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer recorder.Close()

			best, err := recorder.GetBestModel(models.TaskType(args[0]), minRuns)
			if err != nil {
				return err
			}
			if best == nil {
				fmt.Printf("no model with at least %d runs for %s\n", minRuns, args[0])
				return nil
			}
			fmt.Printf("%s:%s (score %.1f over %d runs)\n", best.Provider, best.ModelID, best.OverallScore, best.TotalRuns)
			return nil
		},
	}

	cmd.Flags().IntVar(&minRuns, "min-runs", learning.MinRunsForBest, "minimum runs required")
	return cmd
}

func newLearningClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all learning records and aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			recorder, err := openRecorder()
			if err != nil {
				return err
			}
			defer recorder.Close()
			return recorder.Clear(cmd.Context())
		},
	}
}
