package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrJobExists = errors.New("job already registered under this name")

// Registry maps stable job names to job definitions. Every process that
// enqueues or consumes jobs builds the same registry at startup, before any
// queue is serviced; payloads naming an unregistered job are rejected.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
	}
}

func (r *Registry) Register(job *Job) error {
	if job == nil {
		return ErrNotCallable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name())
	}

	r.jobs[job.Name()] = job
	return nil
}

func (r *Registry) MustRegister(job *Job) {
	if err := r.Register(job); err != nil {
		panic(err)
	}
}

// Define defines a job and registers it in one step.
func (r *Registry) Define(name string, fn any, opts ...Option) (*Job, error) {
	job, err := Define(name, fn, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Register(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Registry) MustDefine(name string, fn any, opts ...Option) *Job {
	job, err := r.Define(name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return job
}

func (r *Registry) Get(name string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedCallable, name)
	}

	return job, nil
}

// Resolve turns an enqueue target into a registered job. The target is either
// a *Job registered here or the name of one.
func (r *Registry) Resolve(target any) (*Job, error) {
	switch t := target.(type) {
	case *Job:
		if t == nil {
			return nil, ErrNotCallable
		}
		registered, err := r.Get(t.Name())
		if err != nil || registered != t {
			return nil, fmt.Errorf("%w: %s is not registered", ErrNotCallable, t.Name())
		}
		return t, nil
	case string:
		job, err := r.Get(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotCallable, err)
		}
		return job, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, target)
	}
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
