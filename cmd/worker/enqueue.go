package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/spacesedan/sentiflow-worker/internal/utils"
	"github.com/spf13/cobra"
)

var enqueueBatchSize int

var enqueueCmd = &cobra.Command{
	Use:   "enqueue FILE",
	Short: "Split a JSON file of reviews into batches and enqueue them (- reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx := context.Background()

		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		reviews, err := models.DecodeReviewBatch(data)
		if err != nil {
			return fmt.Errorf("failed to decode reviews: %w", err)
		}
		if err := reviews.Validate(); err != nil {
			return fmt.Errorf("nothing to enqueue: %w", err)
		}

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

		for _, chunk := range utils.Chunk(reviews, enqueueBatchSize) {
			id, err := q.Enqueue(ctx, models.ReviewBatch(chunk))
			if err != nil {
				return err
			}
			fmt.Println(id)
		}

		a.Logger.Info("[Enqueue] Done", slog.Int("reviews", len(reviews)))
		return nil
	},
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	enqueueCmd.Flags().IntVar(&enqueueBatchSize, "batch-size", utils.DEFAULT_BATCH_SIZE, "Reviews per job")
	rootCmd.AddCommand(enqueueCmd)
}
