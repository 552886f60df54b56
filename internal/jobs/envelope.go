package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is a job call in transportable form: which registered function to
// run, its encoded arguments and its execution class. Arguments are encoded
// when the envelope is built, so later changes to the caller's values never
// reach the worker.
type Envelope struct {
	ID         string               `msgpack:"id"`
	Func       string               `msgpack:"func"`
	Class      ExecutionClass       `msgpack:"class"`
	Args       []msgpack.RawMessage `msgpack:"args"`
	Kwargs     Kwargs               `msgpack:"kwargs,omitempty"`
	EnqueuedAt time.Time            `msgpack:"enqueued_at"`
}

// NewEnvelope encodes a call to job. The argument shape is checked against the
// job's signature so a mismatch is reported to the enqueuing caller rather than
// discovered by a worker.
func NewEnvelope(job *Job, args []any, kwargs map[string]any) (*Envelope, error) {
	if job == nil {
		return nil, ErrNotCallable
	}
	if err := job.CheckArgs(len(args), len(kwargs) > 0); err != nil {
		return nil, err
	}

	encoded, err := EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	kw, err := EncodeKwargs(kwargs)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:         uuid.NewString(),
		Func:       job.Name(),
		Class:      job.Class(),
		Args:       encoded,
		Kwargs:     kw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// EncodeArgs msgpack-encodes each positional argument on its own so the worker
// can decode it straight into the parameter type.
func EncodeArgs(args []any) ([]msgpack.RawMessage, error) {
	out := make([]msgpack.RawMessage, 0, len(args))
	for i, a := range args {
		raw, err := msgpack.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// RuntimeContext builds the injectable context for this envelope.
func (e *Envelope) RuntimeContext(queue, worker string, pid int) *Context {
	return &Context{
		JobID:      e.ID,
		Queue:      queue,
		EnqueuedAt: e.EnqueuedAt,
		Worker:     worker,
		PID:        pid,
	}
}
