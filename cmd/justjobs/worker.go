package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/albachteng/justjobs/internal/manager"
)

// newWorkerCommand is the body of the processes ExecSpawner starts. SIGTERM
// is the shutdown signal.
func newWorkerCommand(a *app) *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:         "worker",
		Short:       "Consume one queue until SIGTERM",
		Annotations: map[string]string{"logs": "stdout"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.exportConfig(); err != nil {
				return err
			}
			mcfg, err := a.cfg.Manager()
			if err != nil {
				return err
			}
			if mcfg.Store.ProcessLocal() {
				return fmt.Errorf("%w: %s", manager.ErrProcessLocalStore, mcfg.Store.URL)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return manager.RunWorker(ctx, manager.WorkerSpec{
				Queue:    queueName,
				Config:   mcfg,
				Registry: a.registry,
				Logger:   a.logger,
			})
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", manager.DefaultQueue, "Queue to consume")
	return cmd
}
