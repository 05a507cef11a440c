package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract company, role and topics for prioritized contacts under a budget",
	Long: "Processes candidates in priority order until the budget is spent, the list is exhausted or the " +
		"run is interrupted. Each contact is committed atomically, so an interrupted run loses at most one contact.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		budget, _ := cmd.Flags().GetFloat64("budget")
		resume, _ := cmd.Flags().GetBool("resume")
		limit, _ := cmd.Flags().GetInt("limit")
		if !cmd.Flags().Changed("limit") {
			limit = cfg.Prioritize.DefaultLimit
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Runner.Run(ctx, pipeline.RunOptions{BudgetUSD: budget, Resume: resume, Limit: limit})
		if run != nil {
			zap.L().Info("run complete",
				zap.String("run_id", run.ID),
				zap.String("stop_reason", string(run.StopReason)),
				zap.Int("processed", run.Processed),
				zap.Float64("total_cost_usd", run.TotalCost),
			)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(run); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	},
}

func init() {
	runCmd.Flags().Float64("budget", 0, "maximum spend in USD (required)")
	runCmd.Flags().Bool("resume", false, "skip contacts that already have an extraction")
	runCmd.Flags().Int("limit", 0, "maximum contacts to consider (default from config)")
	_ = runCmd.MarkFlagRequired("budget")
	rootCmd.AddCommand(runCmd)
}
