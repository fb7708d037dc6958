package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobsync/internal/api"
	"github.com/sells-group/jobsync/internal/monitoring"
	"github.com/sells-group/jobsync/internal/sweep"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run status and run control over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initIngest(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		srvAPI := api.New(ctx, env.Store, env.Collector, env.Driver, sweep.New(env.Store, cfg.Sweep.GhostAfterDays))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srvAPI.Handler(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			srvAPI.StopRun()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			srvAPI.Wait()
			return err
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
