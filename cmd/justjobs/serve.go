package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/albachteng/justjobs/internal/api"
	"github.com/albachteng/justjobs/internal/manager"
	"github.com/albachteng/justjobs/internal/monitor"
	"github.com/albachteng/justjobs/internal/shutdown"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Start the worker processes and the HTTP enqueue API",
		Annotations: map[string]string{"logs": "stdout"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.exportConfig(); err != nil {
		return err
	}
	mcfg, err := a.cfg.Manager()
	if err != nil {
		return err
	}

	opts := []manager.Option{
		manager.WithRegistry(a.registry),
		manager.WithLogger(a.logger),
	}
	// a process-local store is invisible to re-executed workers, so they run
	// on goroutines of this process instead
	if mcfg.Store.ProcessLocal() {
		a.logger.Info("process-local store, running workers in this process", "store", mcfg.Store.URL)
		opts = append(opts, manager.WithSpawner(manager.LocalSpawner{}))
	}

	m, err := manager.New(mcfg, opts...)
	if err != nil {
		return err
	}
	if err := m.Startup(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.API.Addr)
	if err != nil {
		_ = m.Shutdown(context.Background()) //nolint:errcheck
		return err
	}

	srv := &http.Server{
		Handler:           api.NewServer(m, a.logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var reporter *monitor.Reporter
	if schedule := a.cfg.Monitor.Schedule; schedule != "" {
		reporter = monitor.NewReporter(m, m.Queues(), a.logger)
		if err := reporter.Start(schedule); err != nil {
			_ = srv.Close()                      //nolint:errcheck
			_ = m.Shutdown(context.Background()) //nolint:errcheck
			return err
		}
	}

	a.logger.Info("server started",
		"address", ln.Addr().String(),
		"queues", m.Queues(),
		"jobs", a.registry.Names())

	var failed error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case failed = <-serveErr:
		a.logger.Error("server failed", "error", failed)
	}

	sd := shutdown.NewManagerWithTimeout(context.Background(), a.cfg.Worker.ShutdownTimeout, a.logger)
	if reporter != nil {
		sd.RegisterTask("monitor", reporter.Stop)
	}
	sd.RegisterTask("http-server", srv.Shutdown)
	sd.RegisterTask("manager", m.Shutdown)
	sd.Shutdown()

	if errors.Is(failed, http.ErrServerClosed) {
		failed = nil
	}
	return errors.Join(failed, sd.Err())
}
