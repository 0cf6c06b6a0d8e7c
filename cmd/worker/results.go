package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spacesedan/sentiflow-worker/internal/db"
	"github.com/spacesedan/sentiflow-worker/internal/models"
	"github.com/spf13/cobra"
)

var (
	searchMovie     string
	searchSentiment string
	summaryMovie    string
	resultsJSON     bool
)

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored results by movie name and sentiment",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		sentiment := models.Sentiment(searchSentiment)
		if searchSentiment != "" && !sentiment.Valid() {
			return fmt.Errorf("unknown sentiment %q", searchSentiment)
		}

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := a.Store.Find(ctx, db.Filter{MovieName: searchMovie, Sentiment: sentiment})
		if err != nil {
			return fmt.Errorf("failed to search results: %w", err)
		}

		if resultsJSON {
			return printJSON(results)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "MOVIE\tSENTIMENT\tCONFIDENCE\tJOB\tTIMESTAMP")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\n",
				r.MovieName, r.Sentiment, r.Confidence, r.WorkerJobID, r.Timestamp.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "\n%d results\n", len(results))
		return w.Flush()
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show per-movie sentiment counts and average confidence",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		summaries, err := a.Store.Summarize(ctx, summaryMovie)
		if err != nil {
			return fmt.Errorf("failed to summarize results: %w", err)
		}

		if resultsJSON {
			return printJSON(summaries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "MOVIE\tSENTIMENT\tCOUNT\tAVG CONFIDENCE")
		for _, s := range summaries {
			for _, c := range s.Sentiments {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\n", s.MovieName, c.Sentiment, c.Count, c.AvgConfidence)
			}
			fmt.Fprintf(w, "%s\ttotal\t%d\t\n", s.MovieName, s.TotalReviews)
		}
		return w.Flush()
	},
}

var moviesCmd = &cobra.Command{
	Use:   "movies",
	Short: "List the distinct movies with stored results",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		movies, err := a.Store.Distinct(ctx, db.FIELD_MOVIE_NAME)
		if err != nil {
			return fmt.Errorf("failed to list movies: %w", err)
		}

		if resultsJSON {
			return printJSON(movies)
		}
		for _, m := range movies {
			fmt.Println(m)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show result store and queue statistics",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		report := struct {
			Database models.DBStats     `json:"database"`
			Queue    *models.QueueStats `json:"queue,omitempty"`
			QueueErr string             `json:"queue_error,omitempty"`
		}{
			Database: db.CollectStats(ctx, a.Store, a.StoreLocation()),
		}

		q, err := a.ConnectQueue(ctx)
		if err != nil {
			report.QueueErr = err.Error()
		} else {
			defer q.Close()
			if stats, err := q.Stats(ctx); err != nil {
				report.QueueErr = err.Error()
			} else {
				report.Queue = &stats
			}
		}

		if resultsJSON {
			return printJSON(report)
		}

		d := report.Database
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "STORE\t%s (%s)\t%s\n", d.Backend, d.Location, d.Status)
		if d.Error != "" {
			fmt.Fprintf(w, "  error\t%s\n", d.Error)
		}
		fmt.Fprintf(w, "  total\t%d\n", d.TotalDocuments)
		fmt.Fprintf(w, "  movies\t%d\n", d.UniqueMovies)
		fmt.Fprintf(w, "  positive\t%d\n", d.PositiveReviews)
		fmt.Fprintf(w, "  negative\t%d\n", d.NegativeReviews)
		fmt.Fprintf(w, "  neutral\t%d\n", d.NeutralReviews)
		if report.Queue != nil {
			fmt.Fprintf(w, "QUEUE\t%s\n", report.Queue.Queue)
			fmt.Fprintf(w, "  pending\t%d\n", report.Queue.Pending)
			fmt.Fprintf(w, "  scheduled\t%d\n", report.Queue.Scheduled)
			fmt.Fprintf(w, "  in progress\t%d\n", report.Queue.InProgress)
			fmt.Fprintf(w, "  failed\t%d\n", report.Queue.Failed)
			fmt.Fprintf(w, "  workers\t%d\n", report.Queue.Workers)
		} else {
			fmt.Fprintf(w, "QUEUE\tunavailable: %s\n", report.QueueErr)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	searchCmd.Flags().StringVar(&searchMovie, "movie", "", "Case-insensitive substring of the movie name")
	searchCmd.Flags().StringVar(&searchSentiment, "sentiment", "", "positive, negative or neutral")
	summaryCmd.Flags().StringVar(&summaryMovie, "movie", "", "Restrict the summary to matching movies")

	for _, cmd := range []*cobra.Command{searchCmd, summaryCmd, moviesCmd, statsCmd} {
		cmd.Flags().BoolVar(&resultsJSON, "json", false, "Output as JSON")
		rootCmd.AddCommand(cmd)
	}
}
