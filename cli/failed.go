package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	resultsstore "github.com/Octogonapus/ProtocolBench/results_store"
)

// NewFailedCommand creates the failed command.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List scenarios whose latest run failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.DB == "" {
				return fmt.Errorf("--db is required")
			}
			store, err := resultsstore.Open(rootOpts.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			failed, err := store.FailedScenarios(cmd.Context())
			if err != nil {
				return err
			}
			if len(failed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed scenarios")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BENCHMARK\tSCENARIO\tOUTCOME\tSTARTED\tRUN\tERROR")
			for _, f := range failed {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					f.Benchmark, f.ScenarioID, f.Outcome, f.StartedAt.Format(time.RFC3339), f.RunID, f.Error)
			}
			return tw.Flush()
		},
	}
}
