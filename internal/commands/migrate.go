package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/hugh/go-reclaim/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := connect()
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d tables up to date\n", color.GreenString("ok"), len(database.Models()))
		return nil
	},
}
