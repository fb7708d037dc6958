package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:       "sweep [all|reclassify|recompute|merge|orphans|ghost]",
	Short:     "Run reconciliation passes over stored jobs",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: append([]string{"all"}, sweep.Passes...),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sw := sweep.New(st, cfg.Sweep.GhostAfterDays)

		pass := "all"
		if len(args) == 1 {
			pass = args[0]
		}

		var reports []sweep.Report
		if pass == "all" {
			reports, err = sw.RunAll(ctx)
		} else {
			var r *sweep.Report
			if r, err = sw.Run(ctx, pass); r != nil {
				reports = append(reports, *r)
			}
		}
		if err != nil {
			return err
		}

		changed := 0
		for _, r := range reports {
			changed += r.Changed
		}
		zap.L().Info("sweep complete", zap.String("pass", pass), zap.Int("changed", changed))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
