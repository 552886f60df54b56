package jobs

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Context is the runtime context injected into jobs that declare a *Context
// parameter. It only carries values that survive a process boundary: the
// store connection and executor pools of the worker are never part of it.
type Context struct {
	JobID      string    `msgpack:"job_id" json:"job_id"`
	Queue      string    `msgpack:"queue" json:"queue"`
	EnqueuedAt time.Time `msgpack:"enqueued_at" json:"enqueued_at"`
	Worker     string    `msgpack:"worker" json:"worker"`
	PID        int       `msgpack:"pid" json:"pid"`
}

// Kwargs holds keyword arguments in their encoded form. A job receives them by
// declaring a trailing Kwargs parameter.
type Kwargs map[string]msgpack.RawMessage

// Has reports whether the keyword was supplied.
func (k Kwargs) Has(name string) bool {
	_, ok := k[name]
	return ok
}

// Decode unmarshals the named keyword into v. It returns false when the keyword
// was not supplied, leaving v untouched.
func (k Kwargs) Decode(name string, v any) (bool, error) {
	raw, ok := k[name]
	if !ok {
		return false, nil
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode keyword %q: %w", name, err)
	}
	return true, nil
}

// EncodeKwargs encodes plain values into Kwargs. A nil or empty map yields nil.
func EncodeKwargs(kwargs map[string]any) (Kwargs, error) {
	if len(kwargs) == 0 {
		return nil, nil
	}
	out := make(Kwargs, len(kwargs))
	for name, v := range kwargs {
		raw, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode keyword %q: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}
