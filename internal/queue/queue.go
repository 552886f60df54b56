package queue

import (
	"context"
	"errors"
	"time"
)

/*
DO NOT: type Store interface { Enqueue(*jobs.Envelope) ... }
stores move opaque payloads between named lists
signing and decoding live above this layer
*/

var (
	ErrConflictingTarget = errors.New("store target has both a URL and a client")
	ErrNoTarget          = errors.New("store target has neither a URL nor a client")
	ErrUnsupportedScheme = errors.New("unsupported store URL scheme")
	ErrStoreClosed       = errors.New("store is closed")
)

const keyPrefix = "jobqueue:"

// Store is an ordered-list store. Every operation is atomic at the store, so
// callers need no locking of their own for queue correctness.
type Store interface {
	// PushTail appends payload to the list at key and returns its new length.
	PushTail(ctx context.Context, key string, payload []byte) (int64, error)

	// MoveBlocking pops the head of from and appends it to to in one step,
	// waiting up to timeout for from to become non-empty. A timeout returns a
	// nil payload and a nil error with nothing moved. A non-positive timeout
	// waits until ctx is done.
	MoveBlocking(ctx context.Context, from, to string, timeout time.Duration) ([]byte, error)

	// Move is MoveBlocking without the wait.
	Move(ctx context.Context, from, to string) ([]byte, error)

	// RemoveOne removes the first element equal to payload and reports how
	// many were removed.
	RemoveOne(ctx context.Context, key string, payload []byte) (int64, error)

	// MoveOne removes the first element of from equal to payload and appends
	// it to to in one step. It reports false with nothing changed when from
	// holds no such element.
	MoveOne(ctx context.Context, from, to string, payload []byte) (bool, error)

	Len(ctx context.Context, key string) (int64, error)

	// Range returns a snapshot of the whole list, head first.
	Range(ctx context.Context, key string) ([][]byte, error)

	Close() error
}

// PendingKey is the list holding payloads waiting for a consumer.
func PendingKey(queue string) string {
	return keyPrefix + queue
}

// InFlightKey is the list holding payloads claimed but not yet acknowledged.
func InFlightKey(queue string) string {
	return PendingKey(queue) + "-processing"
}

// FailedKey is the dead-letter list.
func FailedKey(queue string) string {
	return PendingKey(queue) + "-failed"
}
