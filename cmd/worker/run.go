package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spacesedan/sentiflow-worker/internal/monitoring"
	"github.com/spacesedan/sentiflow-worker/internal/server"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume jobs until SIGINT or SIGTERM",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		w := a.NewWorker()
		a.Logger.Info("[Main] Starting worker",
			slog.String("worker", a.Config.WorkerName),
			slog.String("queue", a.Config.Queue.Name),
			slog.String("store", a.StoreLocation()))

		go a.Health.Monitor(ctx, monitoring.HEALTHCHECK_TIMER)

		if addr := a.Config.HealthAddr; addr != "" {
			go func() {
				if err := server.Serve(ctx, addr, server.NewRouter(a.Health, w), a.Logger); err != nil {
					a.Logger.Error("[Main] Health server failed", slog.String("error", err.Error()))
				}
			}()
		}

		return w.Run(ctx)
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(runCmd)
}
