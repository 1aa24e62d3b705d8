package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "assetsmith",
	Short: "Concurrent AI asset generation pipeline",
	Long:  "Generates visual assets through a prompt competition, a budget-guarded synthesis pipeline with dedup caching and checkpointed resume, and an optional human approval gate.",
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
