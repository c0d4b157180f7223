package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kousu-tools/workload-form/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "workload-form",
	Short: "Reactive workload aggregation form engine",
	Long:  "Derives billing, workday, and work-in-progress figures from user edits and cost-management lookups, with user overrides and stale-response suppression.",
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
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
