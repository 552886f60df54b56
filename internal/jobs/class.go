package jobs

import "fmt"

// ExecutionClass decides where a dequeued job runs.
type ExecutionClass string

const (
	// InlineAsync jobs run on the consumer loop slot that claimed them.
	InlineAsync ExecutionClass = "inline-async"

	// IOBound jobs spend most of their time waiting on external services and
	// run on the worker process's thread pool.
	IOBound ExecutionClass = "io-bound"

	// CPUBound jobs run in a separate OS process from the worker's process pool.
	CPUBound ExecutionClass = "cpu-bound"
)

func (c ExecutionClass) String() string {
	return string(c)
}

func (c ExecutionClass) Valid() bool {
	switch c {
	case InlineAsync, IOBound, CPUBound:
		return true
	}
	return false
}

func ParseExecutionClass(s string) (ExecutionClass, error) {
	c := ExecutionClass(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown execution class %q", s)
	}
	return c, nil
}
