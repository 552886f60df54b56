package main

import (
	"github.com/spf13/cobra"

	"github.com/albachteng/justjobs/internal/worker"
)

// newRunJobCommand runs one cpu-bound job handed over on stdin and writes
// its result to stdout. Failures exit non-zero with the message on stderr.
func newRunJobCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    "run-job",
		Short:  "Run one cpu-bound job from stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.codec()
			if err != nil {
				return err
			}
			return worker.RunChild(cmd.Context(), c, a.registry, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
