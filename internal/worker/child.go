package worker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/executor"
	"github.com/albachteng/justjobs/internal/jobs"
)

// RunChild is the body of a CPU-bound child process. It reads one unit from
// in, verifies and resolves its payload against registry, runs the job and
// writes the result to out. Any error means the job failed; the caller
// reports it on stderr and exits non-zero.
func RunChild(ctx context.Context, c *codec.Codec, registry *jobs.Registry, in io.Reader, out io.Writer) error {
	unit, err := executor.ReadUnit(in)
	if err != nil {
		return err
	}

	env, job, err := c.Resolve(unit.Payload, registry)
	if err != nil {
		return err
	}
	if job.Class() != jobs.CPUBound {
		return fmt.Errorf("%s is %s, not %s", job.Name(), job.Class(), jobs.CPUBound)
	}

	rc := unit.Context
	if rc != nil {
		rc.PID = os.Getpid()
	}

	result, err := job.Invoke(ctx, rc, env.Args, env.Kwargs)
	if err != nil {
		return err
	}
	if err := executor.WriteResult(out, result); err != nil {
		return fmt.Errorf("encode result of %s: %w", job.Name(), err)
	}
	return nil
}
