package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/prd"
)

// NewBackupsCommand creates the backups subcommand group.
func NewBackupsCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List or restore PRD backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List PRD backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := prd.NewStore(flags.projectDir).ListBackups()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no backups")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <name>",
		Short: "Restore the PRD from a named backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := prd.NewStore(flags.projectDir).RestoreFromBackup(args[0]); err != nil {
				return err
			}
			fmt.Printf("restored PRD from %s\n", args[0])
			return nil
		},
	})

	return cmd
}
