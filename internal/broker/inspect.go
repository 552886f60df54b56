package broker

import (
	"context"
	"fmt"

	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/queue"
)

type Stats struct {
	Queue    string `json:"queue"`
	Pending  int64  `json:"pending"`
	InFlight int64  `json:"in_flight"`
	Failed   int64  `json:"failed"`
}

// Entry is one in-flight payload. Err is set when the payload could not be
// verified or decoded; such entries are reported rather than skipped.
type Entry struct {
	Envelope *jobs.Envelope
	Payload  []byte
	Err      error
}

func (b *Broker) Inspect(ctx context.Context, queueName string) (Stats, error) {
	stats := Stats{Queue: queueName}

	lengths := []struct {
		key string
		dst *int64
	}{
		{queue.PendingKey(queueName), &stats.Pending},
		{queue.InFlightKey(queueName), &stats.InFlight},
		{queue.FailedKey(queueName), &stats.Failed},
	}
	for _, l := range lengths {
		n, err := b.store.Len(ctx, l.key)
		if err != nil {
			return Stats{}, fmt.Errorf("inspect %s: %w", l.key, err)
		}
		*l.dst = n
	}
	return stats, nil
}

// InFlight lists the payloads claimed on queueName but not acknowledged.
func (b *Broker) InFlight(ctx context.Context, queueName string) ([]Entry, error) {
	return b.entries(ctx, queue.InFlightKey(queueName))
}

// Failed lists the dead-letter list of queueName.
func (b *Broker) Failed(ctx context.Context, queueName string) ([]Entry, error) {
	return b.entries(ctx, queue.FailedKey(queueName))
}

func (b *Broker) entries(ctx context.Context, key string) ([]Entry, error) {
	payloads, err := b.store.Range(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}

	out := make([]Entry, 0, len(payloads))
	for _, p := range payloads {
		env, err := b.codec.Open(p)
		out = append(out, Entry{Envelope: env, Payload: p, Err: err})
	}
	return out, nil
}

// Requeue moves every in-flight payload of queueName back to the tail of its
// pending list and returns how many moved. Nothing requeues automatically;
// this is for an operator who knows the in-flight entries are orphaned. Run
// it while no worker serves the queue, or a job claimed during the drain is
// moved back too and runs twice. Each payload moves in one store step, as
// the dead-letter policy's move does, so a crash mid-drain loses or doubles
// nothing.
func (b *Broker) Requeue(ctx context.Context, queueName string) (int, error) {
	return b.drain(ctx, queue.InFlightKey(queueName), queue.PendingKey(queueName))
}

// RequeueFailed moves the dead-letter list of queueName back to pending.
func (b *Broker) RequeueFailed(ctx context.Context, queueName string) (int, error) {
	return b.drain(ctx, queue.FailedKey(queueName), queue.PendingKey(queueName))
}

func (b *Broker) drain(ctx context.Context, from, to string) (int, error) {
	moved := 0
	for {
		payload, err := b.store.Move(ctx, from, to)
		if err != nil {
			return moved, fmt.Errorf("requeue %s: %w", from, err)
		}
		if payload == nil {
			break
		}
		moved++
	}
	if moved > 0 {
		b.logger.Info("payloads requeued", "from", from, "to", to, "count", moved)
	}
	return moved, nil
}
