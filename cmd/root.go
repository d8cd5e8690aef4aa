package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "comp-engine",
	Short: "Geospatial comparable retrieval and ranking engine",
	Long:  "Retrieves candidate properties around a subject, classifies the surrounding mesh blocks and ranks explainable comparables for valuation reports.",
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
