package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/executor"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/queue"
	"github.com/albachteng/justjobs/internal/shutdown"
	"github.com/albachteng/justjobs/internal/worker"
)

const storeOpenTimeout = 30 * time.Second

// RunWorker is the body of a worker process serving one queue. It starts
// CoroutinesPerWorker consumer loops, blocks until ctx is cancelled (the
// shutdown signal), then stops the loops, letting claimed jobs finish, and
// tears down the pools and the store.
func RunWorker(ctx context.Context, spec WorkerSpec) error {
	cfg := spec.Config.withDefaults()
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", worker.WorkerName(spec.Queue), "pid", os.Getpid())

	registry := spec.Registry
	if registry == nil {
		registry = jobs.NewRegistry()
	}

	c, err := codec.New(cfg.Secret)
	if err != nil {
		return err
	}

	store, ownsStore := spec.Store, false
	if store == nil {
		// a shutdown signal during the connect must not fail the open; the
		// worker then stops as soon as it is up
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeOpenTimeout)
		store, err = queue.Open(openCtx, cfg.Store)
		cancel()
		if err != nil {
			return err
		}
		ownsStore = true
	}

	pools := executor.NewPoolSet(executor.Config{
		ThreadWorkers:  cfg.ThreadWorkers,
		ProcessWorkers: cfg.ProcessWorkers,
		Command:        cfg.ChildCommand,
	}, logger)

	dispatcher := worker.NewDispatcher(spec.Queue, c, registry, pools, logger)
	b := broker.New(store, c, dispatcher, cfg.brokerConfig(), logger)

	slotCtx, cancelSlots := context.WithCancel(context.Background())
	defer cancelSlots()

	var slots errgroup.Group
	for i := 0; i < cfg.CoroutinesPerWorker; i++ {
		slot := i
		slots.Go(func() error {
			err := b.Process(slotCtx, spec.Queue)
			if err != nil {
				logger.Error("consumer loop stopped", "slot", slot, "error", err)
			}
			return err
		})
	}

	logger.Info("worker started",
		"queue", spec.Queue,
		"coroutines", cfg.CoroutinesPerWorker,
		"thread_workers", pools.IO.Size(),
		"process_workers", pools.CPU.Size())

	<-ctx.Done()
	logger.Info("worker stopping", "queue", spec.Queue)

	slotsDone := make(chan error, 1)
	sd := shutdown.NewManagerWithTimeout(context.Background(), cfg.ShutdownTimeout, logger)
	sd.RegisterTask("consumer-loops", func(ctx context.Context) error {
		cancelSlots()
		go func() { slotsDone <- slots.Wait() }()
		select {
		case err := <-slotsDone:
			slotsDone <- err
			return nil
		case <-ctx.Done():
			return fmt.Errorf("consumer loops still running: %w", ctx.Err())
		}
	})
	sd.RegisterTask("executor-pools", pools.Shutdown)
	if ownsStore {
		sd.RegisterTask("store", func(context.Context) error {
			return store.Close()
		})
	}
	sd.Shutdown()

	var slotErr error
	select {
	case slotErr = <-slotsDone:
	default:
	}

	logger.Info("worker stopped", "queue", spec.Queue)
	return errors.Join(slotErr, sd.Err())
}
