package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spacesedan/sentiflow-worker/internal/app"
	"github.com/spf13/cobra"
)

var (
	adminConfirm bool
	replayLimit  int64
)

var errNotConfirmed = errors.New("refusing to run without --yes")

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Maintenance operations; run them with no workers consuming",
}

var clearResultsCmd = &cobra.Command{
	Use:   "clear-results",
	Short: "Delete every stored result",
	RunE: func(_ *cobra.Command, _ []string) error {
		if !adminConfirm {
			return errNotConfirmed
		}
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		deleted, err := a.Store.Clear(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear results: %w", err)
		}
		fmt.Printf("deleted %d results from %s\n", deleted, a.StoreLocation())
		return nil
	},
}

var purgeQueueCmd = &cobra.Command{
	Use:   "purge-queue",
	Short: "Delete all pending, scheduled, failed and in-progress jobs of the queue",
	RunE: func(_ *cobra.Command, _ []string) error {
		if !adminConfirm {
			return errNotConfirmed
		}
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := a.ConnectQueue(ctx)
		if err != nil {
			return err
		}
		defer q.Close()

		deleted, err := q.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d keys of queue %s\n", deleted, q.Name())
		return nil
	},
}

var replayStorageCmd = &cobra.Command{
	Use:   "replay-storage",
	Short: "Store the kept results of jobs that failed with a storage error",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := a.ConnectQueue(ctx)
		if err != nil {
			return err
		}
		defer q.Close()

		report, err := app.ReplayStorageFailures(ctx, q, a.Processor, replayLimit, a.Logger)
		if err != nil {
			return err
		}
		fmt.Printf("replayed %d, still failing %d, skipped %d\n", report.Replayed, report.Failed, report.Skipped)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	clearResultsCmd.Flags().BoolVar(&adminConfirm, "yes", false, "Confirm the deletion")
	purgeQueueCmd.Flags().BoolVar(&adminConfirm, "yes", false, "Confirm the deletion")
	replayStorageCmd.Flags().Int64Var(&replayLimit, "limit", 1000, "Maximum failed jobs to inspect")

	adminCmd.AddCommand(clearResultsCmd, purgeQueueCmd, replayStorageCmd)
	rootCmd.AddCommand(adminCmd)
}
