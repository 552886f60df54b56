package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/config"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/logging"
)

// app carries what every command needs once flags are parsed.
type app struct {
	registry   *jobs.Registry
	configPath string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand(registry *jobs.Registry) *cobra.Command {
	a := &app{registry: registry}

	root := &cobra.Command{
		Use:   "justjobs",
		Short: "Signed job queue and dispatcher",
		Long: `justjobs runs registered Go functions as background jobs.

Jobs are signed, queued in Redis, SQLite or memory, and executed by one
worker process per queue: context-aware jobs inline, io-bound jobs on a
thread pool and cpu-bound jobs in child processes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(a),
		newWorkerCommand(a),
		newRunJobCommand(a),
		newEnqueueCommand(a),
		newStatsCommand(a),
		newInFlightCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	lc, err := cfg.Logging()
	if err != nil {
		return err
	}
	// long-running commands log to stdout; the rest keep stdout for output
	lc.Console = cmd.ErrOrStderr()
	if cmd.Annotations["logs"] == "stdout" {
		lc.Console = cmd.OutOrStdout()
	}

	a.cfg = cfg
	a.logger = logging.New(lc)
	slog.SetDefault(a.logger)
	return nil
}

// exportConfig publishes the resolved configuration to the environment so
// worker and run-job children started from this process agree with it.
func (a *app) exportConfig() error {
	for _, kv := range a.cfg.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("export %s: %w", k, err)
		}
	}
	return nil
}

func (a *app) codec() (*codec.Codec, error) {
	return codec.New([]byte(a.cfg.Secret))
}
