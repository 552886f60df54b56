package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/executor"
	"github.com/albachteng/justjobs/internal/jobs"
)

/*
DO NOT: return the job's error from RunJob
the boolean is the acknowledgement decision
the detail belongs in the log
*/

// WorkerName is the name a worker process serving queue reports in the
// runtime context.
func WorkerName(queue string) string {
	return "brokingworker-" + queue
}

// Dispatcher verifies payloads and runs them where their execution class
// says: inline on the caller, on the thread pool or in a child process.
type Dispatcher struct {
	queue    string
	codec    *codec.Codec
	registry *jobs.Registry
	pools    *executor.PoolSet
	pid      int
	logger   *slog.Logger
}

func NewDispatcher(queue string, c *codec.Codec, registry *jobs.Registry, pools *executor.PoolSet, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    queue,
		codec:    c,
		registry: registry,
		pools:    pools,
		pid:      os.Getpid(),
		logger:   logger.With("component", "dispatcher", "queue", queue),
	}
}

// RunJob runs the job in payload and reports whether it succeeded. A payload
// that fails verification or names an unknown job is never executed.
func (d *Dispatcher) RunJob(ctx context.Context, payload []byte) bool {
	env, job, err := d.codec.Resolve(payload, d.registry)
	if err != nil {
		attrs := []any{"error", err}
		if env != nil {
			attrs = append(attrs, "job_id", env.ID, "func", env.Func)
		}
		d.logger.Error("payload rejected", attrs...)
		return false
	}

	logger := d.logger.With("job_id", env.ID, "func", env.Func, "class", job.Class())
	rc := env.RuntimeContext(d.queue, WorkerName(d.queue), d.pid)

	result, err := d.execute(ctx, job, env, rc, payload)
	if err != nil {
		logger.Error("job failed", "error", err)
		return false
	}

	if result != nil {
		logger.Debug("job result discarded", "result", result)
	}
	logger.Info("job completed")
	return true
}

func (d *Dispatcher) execute(ctx context.Context, job *jobs.Job, env *jobs.Envelope, rc *jobs.Context, payload []byte) (any, error) {
	switch job.Class() {
	case jobs.InlineAsync:
		return job.Invoke(ctx, rc, env.Args, env.Kwargs)

	case jobs.IOBound:
		f, err := d.pools.IO.Submit(func() (any, error) {
			return job.Invoke(ctx, rc, env.Args, env.Kwargs)
		})
		if err != nil {
			return nil, err
		}
		return f.Wait(ctx)

	case jobs.CPUBound:
		f, err := d.pools.CPU.Submit(executor.ProcessUnit{Payload: payload, Context: rc})
		if err != nil {
			return nil, err
		}
		return f.Wait(ctx)

	default:
		return nil, fmt.Errorf("%w: %s has class %q", jobs.ErrMissingExecutionClass, job.Name(), job.Class())
	}
}
