package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/queue"
)

var (
	ErrNotReady       = errors.New("manager is not started")
	ErrAlreadyStarted = errors.New("manager is already started")
	ErrInvalidQueue   = errors.New("queue is not served by this manager")

	// ErrProcessLocalStore is returned when a store that only exists in this
	// process would have to be reached from a separate worker process.
	ErrProcessLocalStore = errors.New("store is local to this process and cannot reach separate worker processes")
)

type State int

const (
	Created State = iota
	Started
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Option func(*Manager)

func WithRegistry(r *jobs.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

func WithSpawner(s Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithStore makes the manager and its in-process workers share store. The
// manager never closes a store it was given.
func WithStore(s queue.Store) Option {
	return func(m *Manager) { m.sharedStore = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns one worker process per configured queue and is the enqueuing
// side of the system.
type Manager struct {
	cfg         Config
	codec       *codec.Codec
	registry    *jobs.Registry
	spawner     Spawner
	sharedStore queue.Store
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	store     queue.Store
	ownsStore bool
	broker    *broker.Broker
	workers   []*WorkerProcess
}

func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()

	c, err := codec.New(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if !cfg.FailurePolicy.Valid() {
		return nil, fmt.Errorf("unknown failure policy %q", cfg.FailurePolicy)
	}
	for _, q := range cfg.Queues {
		if q == "" {
			return nil, fmt.Errorf("%w: empty queue name", ErrInvalidQueue)
		}
	}
	slices.Sort(cfg.Queues)
	cfg.Queues = slices.Compact(cfg.Queues)

	m := &Manager{
		cfg:   cfg,
		codec: c,
		state: Created,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = jobs.NewRegistry()
	}
	if m.spawner == nil {
		m.spawner = ExecSpawner{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "manager")
	return m, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Queues() []string {
	return append([]string(nil), m.cfg.Queues...)
}

func (m *Manager) Registry() *jobs.Registry {
	return m.registry
}

// Startup opens the store and spawns one worker per queue. A manager that
// has been shut down may be started again.
func (m *Manager) Startup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Started || m.state == ShuttingDown {
		return ErrAlreadyStarted
	}

	store, owns := m.sharedStore, false
	if store == nil {
		var err error
		store, err = queue.Open(ctx, m.cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		owns = true
	}

	// a process-local store must be handed to the workers; only spawners
	// that run workers in this process accept one
	workerStore := m.sharedStore
	if m.cfg.Store.ProcessLocal() {
		workerStore = store
	}

	workers := make([]*WorkerProcess, 0, len(m.cfg.Queues))
	for _, q := range m.cfg.Queues {
		spec := WorkerSpec{
			Queue:    q,
			Config:   m.cfg,
			Registry: m.registry,
			Store:    workerStore,
			Logger:   m.logger.With("queue", q),
		}
		h, err := m.spawner.Spawn(ctx, spec)
		if err != nil {
			stopAll(workers)
			if owns {
				_ = store.Close() //nolint:errcheck
			}
			return err
		}
		workers = append(workers, &WorkerProcess{Queue: q, handle: h})
		m.logger.Info("worker spawned", "queue", q)
	}

	m.store, m.ownsStore = store, owns
	m.broker = broker.New(store, m.codec, nil, m.cfg.brokerConfig(), m.logger)
	m.workers = workers
	m.state = Started
	return nil
}

func stopAll(workers []*WorkerProcess) {
	for _, w := range workers {
		_ = w.handle.Stop() //nolint:errcheck
	}
	for _, w := range workers {
		_ = w.handle.Wait() //nolint:errcheck
	}
}

// Shutdown signals every worker, waits for all of them to exit and closes
// the store. When ctx ends first, Shutdown returns its error and the workers
// keep finishing on their own.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Started {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.state = ShuttingDown
	workers := m.workers
	m.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.handle.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("signal worker %s: %w", w.Queue, err))
		}
	}

	var g errgroup.Group
	for _, w := range workers {
		g.Go(w.handle.Wait)
	}
	joined := make(chan error, 1)
	go func() { joined <- g.Wait() }()

	select {
	case err := <-joined:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for workers: %w", ctx.Err()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ownsStore {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	m.store, m.broker, m.workers = nil, nil, nil
	m.state = Stopped
	m.logger.Info("manager stopped", "workers", len(workers))
	return errors.Join(errs...)
}

type enqueueOptions struct {
	queue  string
	kwargs map[string]any
}

type EnqueueOption func(*enqueueOptions)

// InQueue selects the queue. The default is "default".
func InQueue(name string) EnqueueOption {
	return func(o *enqueueOptions) { o.queue = name }
}

func WithKwargs(kwargs map[string]any) EnqueueOption {
	return func(o *enqueueOptions) { o.kwargs = kwargs }
}

// Enqueue records a call of target with args on a queue and returns the
// queue's new pending length. target is a registered *jobs.Job or its name.
func (m *Manager) Enqueue(ctx context.Context, target any, args []any, opts ...EnqueueOption) (int64, error) {
	o := enqueueOptions{queue: DefaultQueue}
	for _, opt := range opts {
		opt(&o)
	}

	b, err := m.readyBroker()
	if err != nil {
		return 0, err
	}
	if err := m.checkQueue(o.queue); err != nil {
		return 0, err
	}

	job, err := m.registry.Resolve(target)
	if err != nil {
		return 0, err
	}
	env, err := jobs.NewEnvelope(job, args, o.kwargs)
	if err != nil {
		return 0, err
	}
	return b.Enqueue(ctx, o.queue, env)
}

func (m *Manager) readyBroker() (*broker.Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Started {
		return nil, ErrNotReady
	}
	return m.broker, nil
}

func (m *Manager) checkQueue(name string) error {
	if !slices.Contains(m.cfg.Queues, name) {
		return fmt.Errorf("%w: %q", ErrInvalidQueue, name)
	}
	return nil
}

func (m *Manager) Inspect(ctx context.Context, queueName string) (broker.Stats, error) {
	b, err := m.readyBroker()
	if err != nil {
		return broker.Stats{}, err
	}
	if err := m.checkQueue(queueName); err != nil {
		return broker.Stats{}, err
	}
	return b.Inspect(ctx, queueName)
}
