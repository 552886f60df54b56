package queue

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps lists in process memory. It serves tests and the
// single-process mode where every worker shares one store value.
type MemoryStore struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	changed chan struct{}
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:   make(map[string][][]byte),
		changed: make(chan struct{}),
	}
}

// broadcast wakes every blocked mover. Callers hold mu.
func (s *MemoryStore) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *MemoryStore) PushTail(ctx context.Context, key string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	s.lists[key] = append(s.lists[key], bytes.Clone(payload))
	s.broadcast()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) move(from, to string) ([]byte, bool) {
	list := s.lists[from]
	if len(list) == 0 {
		return nil, false
	}
	head := list[0]
	if len(list) == 1 {
		delete(s.lists, from)
	} else {
		s.lists[from] = list[1:]
	}
	s.lists[to] = append(s.lists[to], head)
	return bytes.Clone(head), true
}

func (s *MemoryStore) Move(ctx context.Context, from, to string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	payload, _ := s.move(from, to)
	return payload, nil
}

func (s *MemoryStore) MoveBlocking(ctx context.Context, from, to string, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrStoreClosed
		}
		if payload, ok := s.move(from, to); ok {
			s.mu.Unlock()
			return payload, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, nil
		case <-changed:
		}
	}
}

func (s *MemoryStore) RemoveOne(ctx context.Context, key string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	if s.remove(key, payload) {
		return 1, nil
	}
	return 0, nil
}

// remove drops the first element of key equal to payload. Callers hold mu.
func (s *MemoryStore) remove(key string, payload []byte) bool {
	list := s.lists[key]
	for i, item := range list {
		if bytes.Equal(item, payload) {
			s.lists[key] = append(list[:i:i], list[i+1:]...)
			if len(s.lists[key]) == 0 {
				delete(s.lists, key)
			}
			return true
		}
	}
	return false
}

func (s *MemoryStore) MoveOne(ctx context.Context, from, to string, payload []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	if !s.remove(from, payload) {
		return false, nil
	}
	s.lists[to] = append(s.lists[to], bytes.Clone(payload))
	s.broadcast()
	return true, nil
}

func (s *MemoryStore) Len(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Range(ctx context.Context, key string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([][]byte, 0, len(s.lists[key]))
	for _, item := range s.lists[key] {
		out = append(out, bytes.Clone(item))
	}
	return out, nil
}

// Close wakes blocked movers, which then return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.broadcast()
	}
	return nil
}
