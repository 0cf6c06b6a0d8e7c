package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the analysis service and the result store",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		a, cleanup, err := initializeApp(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		snapshot := a.Health.Check(ctx)

		if healthJSON {
			if err := printJSON(snapshot); err != nil {
				return err
			}
		} else {
			names := make([]string, 0, len(snapshot.Checks))
			for name := range snapshot.Checks {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintf(w, "WORKER\t%s\n\n", snapshot.WorkerStatus)
			fmt.Fprintln(w, "CHECK\tSTATUS\tLATENCY\tDETAIL")
			for _, name := range names {
				c := snapshot.Checks[name]
				fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", name, c.Status, c.LatencyMS, c.Detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		if !snapshot.Healthy() {
			return errors.New("worker is unhealthy")
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output the snapshot as JSON")
	rootCmd.AddCommand(healthCmd)
}
