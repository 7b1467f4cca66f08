package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-goals/internal/config"
)

var cfg *config.Config

// actorEmail identifies the acting user for authorization and audit
// attribution. Empty means the system actor.
var actorEmail string

var rootCmd = &cobra.Command{
	Use:   "goals",
	Short: "CRM goal tracking and progress calculation",
	Long:  "Manages cascading sales goals (company -> team -> individual), derives progress from CRM facts, and forecasts completion from progress history.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&actorEmail, "as", "", "acting user email (empty = system)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
