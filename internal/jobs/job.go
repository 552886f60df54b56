package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	stdContextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	contextType    = reflect.TypeOf((*Context)(nil))
	kwargsType     = reflect.TypeOf(Kwargs(nil))
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
)

// Job is a function registered under a stable name. The name, not the function
// pointer, identifies the job across processes.
//
// A function whose first parameter is context.Context is context-aware: it
// cooperates with cancellation and always runs inline on the loop slot. Any
// other function is a plain blocking function and must be declared IOBound or
// CPUBound.
//
// Beyond that, a function may declare one *Context parameter in any position
// (the runtime context is bound to it by type) and a trailing Kwargs
// parameter. The remaining parameters are positional and are decoded from the
// envelope's arguments. Supported results are none, error, T and (T, error).
type Job struct {
	name     string
	fn       reflect.Value
	typ      reflect.Type
	class    ExecutionClass
	aware    bool
	ctxParam int
	kwParam  int
	params   []int
	variadic bool
	errOut   int
	valOut   int
}

type Option func(*definition)

type definition struct {
	class  ExecutionClass
	logger *slog.Logger
}

// WithClass declares the execution class of a job.
func WithClass(c ExecutionClass) Option {
	return func(d *definition) { d.class = c }
}

// WithLogger sets the logger used for definition-time warnings.
func WithLogger(l *slog.Logger) Option {
	return func(d *definition) { d.logger = l }
}

// Define validates fn and returns it as a Job. All signature problems are
// reported here, when the job is defined, never when it runs.
func Define(name string, fn any, opts ...Option) (*Job, error) {
	d := definition{logger: slog.Default()}
	for _, opt := range opts {
		opt(&d)
	}

	if name == "" {
		return nil, fmt.Errorf("%w: empty job name", ErrNotCallable)
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %s is %T", ErrNotCallable, name, fn)
	}
	if d.class != "" && !d.class.Valid() {
		return nil, fmt.Errorf("%w: %s declares %q", ErrMissingExecutionClass, name, d.class)
	}

	t := v.Type()
	j := &Job{
		name:     name,
		fn:       v,
		typ:      t,
		ctxParam: -1,
		kwParam:  -1,
		errOut:   -1,
		valOut:   -1,
		variadic: t.IsVariadic(),
	}

	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		switch {
		case i == 0 && in == stdContextType:
			j.aware = true
		case in == stdContextType:
			return nil, fmt.Errorf("%w: %s takes context.Context at position %d, only the first parameter may", ErrInvalidSignature, name, i)
		case in == contextType:
			if j.ctxParam >= 0 {
				return nil, fmt.Errorf("%w: %s at positions %d and %d", ErrDuplicateContextBinding, name, j.ctxParam, i)
			}
			j.ctxParam = i
		case in == kwargsType:
			if i != t.NumIn()-1 || j.variadic {
				return nil, fmt.Errorf("%w: %s must take Kwargs as its last, non-variadic parameter", ErrInvalidSignature, name)
			}
			j.kwParam = i
		default:
			j.params = append(j.params, i)
		}
	}

	if err := j.inspectResults(); err != nil {
		return nil, err
	}

	switch {
	case j.aware:
		if d.class != "" && d.class != InlineAsync {
			d.logger.Warn("execution class has no effect on context-aware jobs",
				"func", name,
				"class", d.class)
		}
		j.class = InlineAsync
	case d.class == "":
		return nil, fmt.Errorf("%w: %s", ErrMissingExecutionClass, name)
	case d.class == InlineAsync:
		return nil, fmt.Errorf("%w: %s is not context-aware and cannot run inline", ErrMissingExecutionClass, name)
	default:
		j.class = d.class
	}

	return j, nil
}

// MustDefine is like Define but panics on error. Intended for package-level
// job declarations.
func MustDefine(name string, fn any, opts ...Option) *Job {
	j, err := Define(name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return j
}

func (j *Job) inspectResults() error {
	t := j.typ
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			j.errOut = 0
		} else {
			j.valOut = 0
		}
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("%w: %s must return (T, error)", ErrInvalidSignature, j.name)
		}
		j.valOut, j.errOut = 0, 1
	default:
		return fmt.Errorf("%w: %s returns %d values", ErrInvalidSignature, j.name, t.NumOut())
	}
	return nil
}

func (j *Job) Name() string { return j.name }

func (j *Job) Class() ExecutionClass { return j.class }

// ContextAware reports whether the function takes a leading context.Context.
func (j *Job) ContextAware() bool { return j.aware }

// WantsContext reports whether the function declares a *Context parameter.
func (j *Job) WantsContext() bool { return j.ctxParam >= 0 }

// CheckArgs validates an argument shape against the signature.
func (j *Job) CheckArgs(nargs int, hasKwargs bool) error {
	fixed := len(j.params)
	if j.variadic {
		fixed--
	}
	switch {
	case j.variadic && nargs < fixed:
		return fmt.Errorf("%w: %s takes at least %d arguments, got %d", ErrArgumentMismatch, j.name, fixed, nargs)
	case !j.variadic && nargs != fixed:
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArgumentMismatch, j.name, fixed, nargs)
	case hasKwargs && j.kwParam < 0:
		return fmt.Errorf("%w: %s does not accept keyword arguments", ErrArgumentMismatch, j.name)
	}
	return nil
}

// Call runs the job immediately in the calling goroutine, the way application
// code would call the plain function. No runtime context is bound.
func (j *Job) Call(ctx context.Context, args ...any) (any, error) {
	if err := j.CheckArgs(len(args), false); err != nil {
		return nil, err
	}
	encoded, err := EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	return j.Invoke(ctx, nil, encoded, nil)
}

// Invoke binds encoded arguments and the runtime context to the function and
// calls it. A panic inside the function is returned as an error wrapping
// ErrJobFailed.
func (j *Job) Invoke(ctx context.Context, rc *Context, args []msgpack.RawMessage, kwargs Kwargs) (result any, err error) {
	in, err := j.bind(ctx, rc, args, kwargs)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrJobFailed, j.name, r)
		}
	}()

	out := j.fn.Call(in)
	if j.errOut >= 0 && !out[j.errOut].IsNil() {
		return nil, out[j.errOut].Interface().(error)
	}
	if j.valOut >= 0 {
		return out[j.valOut].Interface(), nil
	}
	return nil, nil
}

func (j *Job) bind(ctx context.Context, rc *Context, args []msgpack.RawMessage, kwargs Kwargs) ([]reflect.Value, error) {
	if err := j.CheckArgs(len(args), len(kwargs) > 0); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t := j.typ
	in := make([]reflect.Value, 0, t.NumIn()+len(args))
	next := 0
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		switch {
		case i == 0 && j.aware:
			in = append(in, reflect.ValueOf(ctx))
		case i == j.ctxParam:
			if rc == nil {
				in = append(in, reflect.Zero(pt))
			} else {
				in = append(in, reflect.ValueOf(rc))
			}
		case i == j.kwParam:
			if kwargs == nil {
				in = append(in, reflect.Zero(pt))
			} else {
				in = append(in, reflect.ValueOf(kwargs))
			}
		case j.variadic && i == t.NumIn()-1:
			for ; next < len(args); next++ {
				v, err := decodeArg(args[next], pt.Elem())
				if err != nil {
					return nil, fmt.Errorf("%w: %s argument %d: %v", ErrArgumentMismatch, j.name, next, err)
				}
				in = append(in, v)
			}
		default:
			v, err := decodeArg(args[next], pt)
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %d: %v", ErrArgumentMismatch, j.name, next, err)
			}
			in = append(in, v)
			next++
		}
	}
	return in, nil
}

func decodeArg(raw msgpack.RawMessage, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}
