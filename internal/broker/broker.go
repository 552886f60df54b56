package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/queue"
)

const DefaultPollTimeout = 5 * time.Second

var ErrNoRunner = errors.New("broker has no job runner")

// Runner runs one signed payload and reports whether it succeeded.
type Runner interface {
	RunJob(ctx context.Context, payload []byte) bool
}

type Config struct {
	PollTimeout   time.Duration
	FailurePolicy FailurePolicy
}

func DefaultConfig() Config {
	return Config{
		PollTimeout:   DefaultPollTimeout,
		FailurePolicy: Leave,
	}
}

// Broker implements the queue protocol on top of a Store: enqueue appends a
// signed payload to the pending list, and each consumer loop atomically moves
// the head of pending into the in-flight list, runs it and only then removes
// it. A payload is therefore always in one of the two lists until it is
// acknowledged, and a crash leaves it in in-flight.
type Broker struct {
	store  queue.Store
	codec  *codec.Codec
	runner Runner
	cfg    Config
	logger *slog.Logger
}

// New returns a broker. runner may be nil for a broker that only enqueues
// and inspects.
func New(store queue.Store, c *codec.Codec, runner Runner, cfg Config, logger *slog.Logger) *Broker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = Leave
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:  store,
		codec:  c,
		runner: runner,
		cfg:    cfg,
		logger: logger.With("component", "broker"),
	}
}

// Enqueue signs env and appends it to queue's pending list. It returns the
// new pending length and never waits for a consumer.
func (b *Broker) Enqueue(ctx context.Context, queueName string, env *jobs.Envelope) (int64, error) {
	payload, err := b.codec.Sign(env)
	if err != nil {
		return 0, err
	}

	n, err := b.store.PushTail(ctx, queue.PendingKey(queueName), payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s on %s: %w", env.Func, queueName, err)
	}

	b.logger.Debug("job enqueued",
		"queue", queueName,
		"job_id", env.ID,
		"func", env.Func,
		"queue_length", n)
	return n, nil
}

// Process is one consumer loop slot for queueName. It returns nil once ctx is
// cancelled and a store error otherwise. Cancellation is only observed
// between jobs: a claimed job runs and is acknowledged under a context that
// ignores the cancellation.
func (b *Broker) Process(ctx context.Context, queueName string) error {
	if b.runner == nil {
		return ErrNoRunner
	}

	pending := queue.PendingKey(queueName)
	inFlight := queue.InFlightKey(queueName)
	logger := b.logger.With("queue", queueName)

	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, err := b.store.MoveBlocking(ctx, pending, inFlight, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claim job on %s: %w", queueName, err)
		}
		if payload == nil {
			continue
		}

		jobCtx := context.WithoutCancel(ctx)
		if b.runner.RunJob(jobCtx, payload) {
			if _, err := b.store.RemoveOne(jobCtx, inFlight, payload); err != nil {
				return fmt.Errorf("acknowledge job on %s: %w", queueName, err)
			}
			continue
		}

		if err := b.fail(jobCtx, logger, queueName, payload); err != nil {
			return err
		}
	}
}
