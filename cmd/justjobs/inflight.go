package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/manager"
)

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [QUEUE...]",
		Short: "Show pending, in-flight and failed counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			queues := args
			if len(queues) == 0 {
				queues = a.cfg.Queues
			}
			out := cmd.OutOrStdout()
			for _, q := range queues {
				b, store, err := a.openBroker(cmd.Context(), q)
				if err != nil {
					return err
				}
				stats, err := b.Inspect(cmd.Context(), q)
				store.Close()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-20s pending=%d in_flight=%d failed=%d\n",
					stats.Queue, stats.Pending, stats.InFlight, stats.Failed)
			}
			return nil
		},
	}
}

// newInFlightCommand groups the operator tools for claimed jobs that were
// never acknowledged. Nothing requeues them automatically.
func newInFlightCommand(a *app) *cobra.Command {
	var (
		queueName string
		failed    bool
	)

	cmd := &cobra.Command{
		Use:   "inflight",
		Short: "Inspect or requeue unacknowledged jobs",
	}
	cmd.PersistentFlags().StringVar(&queueName, "queue", manager.DefaultQueue, "Queue to operate on")
	cmd.PersistentFlags().BoolVar(&failed, "failed", false, "Use the dead-letter list instead of the in-flight list")

	list := &cobra.Command{
		Use:   "list",
		Short: "List in-flight (or failed) jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, store, err := a.openBroker(cmd.Context(), queueName)
			if err != nil {
				return err
			}
			defer store.Close()

			var entries []broker.Entry
			if failed {
				entries, err = b.Failed(cmd.Context(), queueName)
			} else {
				entries, err = b.InFlight(cmd.Context(), queueName)
			}
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	requeue := &cobra.Command{
		Use:   "requeue",
		Short: "Move every in-flight (or failed) job back to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, store, err := a.openBroker(cmd.Context(), queueName)
			if err != nil {
				return err
			}
			defer store.Close()

			var n int
			if failed {
				n, err = b.RequeueFailed(cmd.Context(), queueName)
			} else {
				n, err = b.Requeue(cmd.Context(), queueName)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s) on %s\n", n, queueName)
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func printEntries(w io.Writer, entries []broker.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(w, "%s %s\n", color.RedString("unverifiable"), e.Err)
			continue
		}
		env := e.Envelope
		fmt.Fprintf(w, "%s %s %s enqueued %s (%d args)\n",
			color.GreenString(env.ID),
			color.CyanString(env.Func),
			env.Class,
			env.EnqueuedAt.Format(time.RFC3339),
			len(env.Args))
	}
}
