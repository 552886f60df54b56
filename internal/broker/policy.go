package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/albachteng/justjobs/internal/queue"
)

// FailurePolicy decides what happens to a payload whose job failed. No
// policy retries.
type FailurePolicy string

const (
	// Leave keeps the payload in the in-flight list for an operator.
	Leave FailurePolicy = "leave"

	// Discard removes the payload from the in-flight list.
	Discard FailurePolicy = "discard"

	// DeadLetter moves the payload to the queue's failed list.
	DeadLetter FailurePolicy = "dead-letter"
)

func (p FailurePolicy) Valid() bool {
	switch p {
	case Leave, Discard, DeadLetter:
		return true
	}
	return false
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	p := FailurePolicy(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
	return p, nil
}

func (b *Broker) fail(ctx context.Context, logger *slog.Logger, queueName string, payload []byte) error {
	inFlight := queue.InFlightKey(queueName)

	switch b.cfg.FailurePolicy {
	case Discard:
		if _, err := b.store.RemoveOne(ctx, inFlight, payload); err != nil {
			return fmt.Errorf("discard failed job on %s: %w", queueName, err)
		}
		logger.Warn("failed job discarded")

	case DeadLetter:
		// one store step, so a crash leaves the payload in exactly one list
		moved, err := b.store.MoveOne(ctx, inFlight, queue.FailedKey(queueName), payload)
		if err != nil {
			return fmt.Errorf("dead-letter failed job on %s: %w", queueName, err)
		}
		if !moved {
			logger.Warn("failed job already gone from in-flight list")
			return nil
		}
		logger.Warn("failed job moved to dead-letter list")

	default:
		logger.Warn("failed job left in flight")
	}
	return nil
}
