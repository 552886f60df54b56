package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

var ErrPoolClosed = errors.New("executor pool is closed")

// Unit is a zero-argument unit of work with every argument already bound.
type Unit func() (any, error)

type task struct {
	unit   Unit
	future *Future
}

// ThreadPool runs units on a fixed set of goroutines, each locked to its own
// OS thread for its lifetime. A unit never runs on the submitting thread.
type ThreadPool struct {
	tasks  chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	size   int
	logger *slog.Logger
}

func NewThreadPool(size int, logger *slog.Logger) *ThreadPool {
	if size <= 0 {
		size = DefaultThreadWorkers()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &ThreadPool{
		tasks:  make(chan task, size*2),
		size:   size,
		logger: logger.With("component", "thread_pool"),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *ThreadPool) Size() int { return p.size }

// Submit queues unit and returns its future. It blocks while the pool's
// buffer is full and fails with ErrPoolClosed after Shutdown.
func (p *ThreadPool) Submit(unit Unit) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	f := newFuture()
	p.tasks <- task{unit: unit, future: f}
	return f, nil
}

func (p *ThreadPool) worker(id int) {
	defer p.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for t := range p.tasks {
		p.run(id, t)
	}
}

func (p *ThreadPool) run(id int, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("unit panicked", "thread_id", id, "panic", r)
			t.future.resolve(nil, fmt.Errorf("unit panicked: %v", r))
		}
	}()

	value, err := t.unit()
	t.future.resolve(value, err)
}

// Shutdown rejects new units and waits for queued and running ones to finish,
// or for ctx to be done. Units still running when ctx expires are left to
// finish on their own.
func (p *ThreadPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
