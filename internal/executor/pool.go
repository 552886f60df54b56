package executor

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
)

// DefaultThreadWorkers mirrors the usual IO pool size: NumCPU+4, capped at 32.
func DefaultThreadWorkers() int {
	return min(32, runtime.NumCPU()+4)
}

func DefaultProcessWorkers() int {
	return runtime.NumCPU()
}

type Config struct {
	ThreadWorkers  int
	ProcessWorkers int
	Command        CommandFunc
}

// PoolSet holds the pools of one worker process. It belongs to that process
// alone and is never handed to a job.
type PoolSet struct {
	IO  *ThreadPool
	CPU *ProcessPool
}

func NewPoolSet(cfg Config, logger *slog.Logger) *PoolSet {
	return &PoolSet{
		IO:  NewThreadPool(cfg.ThreadWorkers, logger),
		CPU: NewProcessPool(cfg.ProcessWorkers, cfg.Command, logger),
	}
}

// Shutdown shuts both pools down concurrently under one deadline.
func (s *PoolSet) Shutdown(ctx context.Context) error {
	errs := make(chan error, 2)
	go func() { errs <- s.IO.Shutdown(ctx) }()
	go func() { errs <- s.CPU.Shutdown(ctx) }()
	return errors.Join(<-errs, <-errs)
}
