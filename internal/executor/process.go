package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/semaphore"

	"github.com/albachteng/justjobs/internal/jobs"
)

var ErrUnitFailed = errors.New("process unit failed")

// ProcessUnit is what a child process receives on stdin: the signed payload
// exactly as it came off the queue and the runtime context built for it.
type ProcessUnit struct {
	Payload []byte        `msgpack:"payload"`
	Context *jobs.Context `msgpack:"context"`
}

type processResult struct {
	Value any `msgpack:"value"`
}

// CommandFunc builds the command for one child process. It must bind the
// command to ctx (exec.CommandContext) so the pool can stop stragglers.
type CommandFunc func(ctx context.Context) *exec.Cmd

// SelfCommand re-executes the running binary with args.
func SelfCommand(args ...string) CommandFunc {
	return func(ctx context.Context) *exec.Cmd {
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		return exec.CommandContext(ctx, exe, args...)
	}
}

// ProcessPool runs units in child OS processes, at most size at a time. The
// child reads a ProcessUnit from stdin and answers with WriteResult on
// stdout; a non-zero exit status is a failure whose message is on stderr.
type ProcessPool struct {
	sem     *semaphore.Weighted
	command CommandFunc
	size    int
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewProcessPool(size int, command CommandFunc, logger *slog.Logger) *ProcessPool {
	if size <= 0 {
		size = DefaultProcessWorkers()
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	return &ProcessPool{
		sem:     semaphore.NewWeighted(int64(size)),
		command: command,
		size:    size,
		logger:  logger.With("component", "process_pool"),
		base:    base,
		cancel:  cancel,
	}
}

func (p *ProcessPool) Size() int { return p.size }

// Submit starts unit as soon as a process slot frees up and returns at once.
func (p *ProcessPool) Submit(unit ProcessUnit) (*Future, error) {
	if p.command == nil {
		return nil, fmt.Errorf("%w: no command configured", ErrPoolClosed)
	}
	var input bytes.Buffer
	if err := WriteUnit(&input, unit); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	f := newFuture()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.base, 1); err != nil {
			f.resolve(nil, fmt.Errorf("%w: %v", ErrPoolClosed, err))
			return
		}
		defer p.sem.Release(1)

		f.resolve(p.run(input.Bytes()))
	}()
	return f, nil
}

func (p *ProcessPool) run(input []byte) (any, error) {
	cmd := p.command(p.base)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		p.logger.Debug("child process failed", "error", err)
		return nil, fmt.Errorf("%w: %s", ErrUnitFailed, msg)
	}

	var res processResult
	if err := msgpack.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", ErrUnitFailed, err)
	}
	return res.Value, nil
}

// Shutdown rejects new units and waits for running children. When ctx
// expires first, the remaining children are killed.
func (p *ProcessPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// WriteUnit encodes the unit a child process is started with.
func WriteUnit(w io.Writer, unit ProcessUnit) error {
	if err := msgpack.NewEncoder(w).Encode(&unit); err != nil {
		return fmt.Errorf("encode process unit: %w", err)
	}
	return nil
}

// ReadUnit decodes the unit a child process was started with.
func ReadUnit(r io.Reader) (*ProcessUnit, error) {
	var unit ProcessUnit
	if err := msgpack.NewDecoder(r).Decode(&unit); err != nil {
		return nil, fmt.Errorf("decode process unit: %w", err)
	}
	return &unit, nil
}

// WriteResult encodes a child's successful result.
func WriteResult(w io.Writer, value any) error {
	return msgpack.NewEncoder(w).Encode(&processResult{Value: value})
}
