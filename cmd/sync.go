package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/model"
)

var syncBackfill bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Classify new mail and update job applications",
	Long: "Lists matching messages, classifies the ones not yet stored and folds them into jobs. " +
		"With --backfill the full history since pipeline.backfill_after is walked, resuming from the last checkpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initIngest(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mode := model.ModeSync
		if syncBackfill {
			mode = model.ModeBackfill
		}

		sum, err := env.Driver.Run(ctx, mode)
		if err != nil {
			return err
		}

		run := env.Collector.Run()
		zap.L().Info("sync: telemetry",
			zap.Int("requests", run.Requests),
			zap.Int("rotations", run.Rotations),
			zap.Int("rate_limits", run.RateLimits),
			zap.Int64("input_tokens", run.Tokens.Input),
			zap.Int64("output_tokens", run.Tokens.Output),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncBackfill, "backfill", false, "walk the full mailbox history instead of the recent window")
	rootCmd.AddCommand(syncCmd)
}
