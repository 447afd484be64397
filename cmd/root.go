package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sugarwire",
	Short: "Commodity news ingestion and triage pipeline",
	Long:  "Backfills sugar-market news from the provider archive over a weekly schedule, triages and deduplicates articles, and persists the survivors.",
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
