package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/mnemo/db"
	"github.com/mnemolabs/mnemo/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending database migrations and exit. Migrations also run
automatically on startup; this command exists for deploy pipelines that
migrate before rolling the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
