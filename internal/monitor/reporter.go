package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/albachteng/justjobs/internal/broker"
)

// Inspector reads the list lengths of a queue.
type Inspector interface {
	Inspect(ctx context.Context, queue string) (broker.Stats, error)
}

// Reporter logs queue statistics on a cron schedule. It only observes:
// nothing it does moves a payload.
type Reporter struct {
	inspector Inspector
	queues    []string
	logger    *slog.Logger
	parser    cron.Parser
	cron      *cron.Cron
}

func NewReporter(inspector Inspector, queues []string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		inspector: inspector,
		queues:    append([]string(nil), queues...),
		logger:    logger.With("component", "monitor"),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (r *Reporter) NextRun(schedule string, from time.Time) (time.Time, error) {
	s, err := r.parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}

	return s.Next(from), nil
}

// Start reports on schedule, a five-field cron expression or a descriptor
// such as "@every 1m", until Stop.
func (r *Reporter) Start(schedule string) error {
	s, err := r.parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", schedule, err)
	}

	r.cron = cron.New()
	r.cron.Schedule(s, cron.FuncJob(func() {
		r.Report(context.Background())
	}))
	r.cron.Start()

	r.logger.Info("queue monitor started", "schedule", schedule, "queues", r.queues)
	return nil
}

// Stop waits for a running report to finish, or for ctx.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Report logs one line per queue. Failed jobs are a warning since only an
// operator requeues them.
func (r *Reporter) Report(ctx context.Context) []broker.Stats {
	out := make([]broker.Stats, 0, len(r.queues))
	for _, q := range r.queues {
		s, err := r.inspector.Inspect(ctx, q)
		if err != nil {
			r.logger.Error("failed to inspect queue",
				"queue", q,
				"error", err)
			continue
		}
		out = append(out, s)

		attrs := []any{
			"queue", q,
			"pending", s.Pending,
			"in_flight", s.InFlight,
			"failed", s.Failed,
		}
		if s.Failed > 0 {
			r.logger.Warn("queue has failed jobs", attrs...)
			continue
		}
		r.logger.Info("queue stats", attrs...)
	}
	return out
}
