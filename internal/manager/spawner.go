package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/queue"
)

// WorkerSpec describes one worker process.
type WorkerSpec struct {
	Queue    string
	Config   Config
	Registry *jobs.Registry

	// Store, when set, is shared with the worker instead of opened by it.
	// Only in-process workers can share one.
	Store  queue.Store
	Logger *slog.Logger
}

// WorkerHandle controls a running worker process. Stop delivers the shutdown
// signal and returns at once; Wait joins the worker.
type WorkerHandle interface {
	Stop() error
	Wait() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (WorkerHandle, error)
}

// WorkerProcess is the manager's record of one worker.
type WorkerProcess struct {
	Queue  string
	handle WorkerHandle
}

// LocalSpawner runs each worker on goroutines of the current process. The
// shutdown signal is the cancellation of the worker's context.
type LocalSpawner struct{}

func (LocalSpawner) Spawn(ctx context.Context, spec WorkerSpec) (WorkerHandle, error) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &localHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = RunWorker(workerCtx, spec)
	}()
	return h, nil
}

type localHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *localHandle) Stop() error {
	h.cancel()
	return nil
}

func (h *localHandle) Wait() error {
	<-h.done
	return h.err
}

// ExecSpawner starts each worker as a separate OS process and stops it with
// SIGTERM. The child reads the same configuration sources as the parent, so
// only the queue name is passed on the command line. A child cannot share a
// store value, so a spec carrying one is rejected with ErrProcessLocalStore.
type ExecSpawner struct {
	// Command builds the child command for queue. Nil re-executes the running
	// binary as "worker --queue <queue>".
	Command func(queue string) *exec.Cmd
}

func (s ExecSpawner) Spawn(ctx context.Context, spec WorkerSpec) (WorkerHandle, error) {
	if spec.Store != nil {
		return nil, fmt.Errorf("%w: worker for %s", ErrProcessLocalStore, spec.Queue)
	}

	var cmd *exec.Cmd
	if s.Command != nil {
		cmd = s.Command(spec.Queue)
	} else {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		cmd = exec.Command(exe, "worker", "--queue", spec.Queue)
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", spec.Queue, err)
	}
	return &execHandle{cmd: cmd}, nil
}

type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) Stop() error {
	err := unix.Kill(h.cmd.Process.Pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (h *execHandle) Wait() error {
	if err := h.cmd.Wait(); err != nil {
		return fmt.Errorf("worker process %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}
