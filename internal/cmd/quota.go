package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/quota"
)

// NewQuotaCommand creates the quota subcommand.
func NewQuotaCommand(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show per-provider quota status",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := quota.NewManager(nil)
			snapshot := mgr.Refresh(cmd.Context(), force)

			providers := make([]string, 0, len(snapshot))
			for p := range snapshot {
				providers = append(providers, string(p))
			}
			sort.Strings(providers)

			for _, p := range providers {
				q := snapshot[models.Provider(p)]
				fmt.Printf("  %-12s %s", q.Provider, colorStatus(q.Status))
				if q.Details != "" {
					fmt.Printf("  (%s)", q.Details)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "bypass the refresh cache")
	return cmd
}

func colorStatus(s models.QuotaStatus) string {
	switch s {
	case models.QuotaAvailable:
		return color.GreenString(string(s))
	case models.QuotaLimited:
		return color.YellowString(string(s))
	case models.QuotaExhausted, models.QuotaUnavailable:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
