package manager

import (
	"time"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/executor"
	"github.com/albachteng/justjobs/internal/queue"
)

const (
	DefaultQueue               = "default"
	DefaultCoroutinesPerWorker = 20
	DefaultShutdownTimeout     = 30 * time.Second
)

// Config is everything a manager and its worker processes need. It is passed
// by value; nothing in it is changed after New.
type Config struct {
	// Secret keys the payload signatures. Every process sharing a store must
	// use the same one.
	Secret []byte

	// Queues lists the queues served, one worker process each.
	Queues []string

	Store queue.Target

	CoroutinesPerWorker int
	PollTimeout         time.Duration
	ThreadWorkers       int
	ProcessWorkers      int
	ShutdownTimeout     time.Duration
	FailurePolicy       broker.FailurePolicy

	// ChildCommand starts CPU-bound job children. Nil re-executes the running
	// binary with "run-job".
	ChildCommand executor.CommandFunc
}

func DefaultConfig() Config {
	return Config{
		Queues:              []string{DefaultQueue},
		CoroutinesPerWorker: DefaultCoroutinesPerWorker,
		PollTimeout:         broker.DefaultPollTimeout,
		ThreadWorkers:       executor.DefaultThreadWorkers(),
		ProcessWorkers:      executor.DefaultProcessWorkers(),
		ShutdownTimeout:     DefaultShutdownTimeout,
		FailurePolicy:       broker.Leave,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Queues) == 0 {
		c.Queues = d.Queues
	}
	if c.CoroutinesPerWorker <= 0 {
		c.CoroutinesPerWorker = d.CoroutinesPerWorker
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.ThreadWorkers <= 0 {
		c.ThreadWorkers = d.ThreadWorkers
	}
	if c.ProcessWorkers <= 0 {
		c.ProcessWorkers = d.ProcessWorkers
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = d.FailurePolicy
	}
	if c.ChildCommand == nil {
		c.ChildCommand = executor.SelfCommand("run-job")
	}
	c.Secret = append([]byte(nil), c.Secret...)
	c.Queues = append([]string(nil), c.Queues...)
	return c
}

func (c Config) brokerConfig() broker.Config {
	return broker.Config{
		PollTimeout:   c.PollTimeout,
		FailurePolicy: c.FailurePolicy,
	}
}
