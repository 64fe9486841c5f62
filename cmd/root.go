package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "donor-geo",
	Short: "Donor and affiliate reconciliation and geocoding",
	Long: "Reconciles periodic donor/affiliate exports into a master dataset, geocodes new and changed " +
		"addresses through a persistent cache, and writes one layer file per affiliation for the dashboard.",
	SilenceUsage: true,
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
