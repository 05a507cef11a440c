package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "relgraph",
	Short: "Contact relationship graph and warm-introduction engine",
	Long: "Scores relationships from mail metadata, enriches contacts with Claude under a dollar budget, " +
		"syncs people, companies and topics into a graph and finds warm introduction paths.",
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
