// Package commands implements reclaimctl, the operator CLI for database
// setup and read-only inspection of plans and audit trails.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/hugh/go-reclaim/internal/database"
	"github.com/hugh/go-reclaim/pkg/config"
	"github.com/hugh/go-reclaim/pkg/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	verbose bool
	version string
	cfg     *config.Config
	logger  = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "reclaimctl",
	Short: "reclaimctl - go-reclaim operator tool",
	Long: `reclaimctl migrates and seeds the go-reclaim database, prints the audit
trail of a scan, plan or finding, and exports remediation plans as shell scripts.

It reads the same environment and .env file as the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		level := cfg.Server.LogLevel
		if verbose {
			level = "debug"
		} else if level == "" {
			level = "warn"
		}
		logger = util.NewLogger(cfg.Server.Env, level)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command with injected build info.
func Execute(v string) error {
	version = v
	return rootCmd.Execute()
}

func GetVersion() string {
	return version
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reclaimctl version %s\n", GetVersion())
	},
}

func connect() (*gorm.DB, error) {
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}
