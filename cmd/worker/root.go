package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spacesedan/sentiflow-worker/config"
	"github.com/spacesedan/sentiflow-worker/internal/app"
	"github.com/spacesedan/sentiflow-worker/internal/logging"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "sentiflow-worker",
	Short:         "sentiflow-worker consumes review batches and stores their sentiment.",
	Long:          `A background worker that pulls review batches from the queue, sends them to the analysis service and persists the results, plus operator commands to inspect and maintain the queue and the result store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("[Main] Command failed", slog.String("error", err.Error()))
	}
	return err
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
}

func initConfig() {
	config.LoadEnv(config.AppEnv())
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logging.InitLogger(cfg.LogLevel), nil
}

func initializeApp(ctx context.Context) (*app.App, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, cleanup, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize app services: %w", err)
	}
	return a, cleanup, nil
}
