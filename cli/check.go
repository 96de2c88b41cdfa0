package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the tanka and kubectl binaries are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, _, err := rootOpts.newToolRunner()
			if err != nil {
				return err
			}
			err = rootOpts.newCluster(runner).CheckTools(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cluster tools ok")
			return nil
		},
	}
}
