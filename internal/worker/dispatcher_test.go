package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/executor"
	"github.com/albachteng/justjobs/internal/jobs"
)

const (
	testSecret = "worker-test-secret"
	childEnv   = "JUSTJOBS_WORKER_TEST_CHILD"
)

// TestMain doubles as the CPU-bound child process.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		c, _ := codec.New([]byte(testSecret))
		if err := RunChild(context.Background(), c, testRegistry(), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func recordWhere(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d %d", os.Getpid(), unix.Gettid())), 0o644)
}

func testRegistry() *jobs.Registry {
	r := jobs.NewRegistry()
	r.MustDefine("where_inline", func(ctx context.Context, path string) error { return recordWhere(path) })
	r.MustDefine("where_io", recordWhere, jobs.WithClass(jobs.IOBound))
	r.MustDefine("where_cpu", recordWhere, jobs.WithClass(jobs.CPUBound))
	r.MustDefine("queue_of", func(ctx context.Context, path string, rc *jobs.Context) error {
		if rc == nil {
			return os.WriteFile(path, []byte("<nil>"), 0o644)
		}
		return os.WriteFile(path, []byte(rc.Queue+" "+rc.Worker), 0o644)
	})
	r.MustDefine("cpu_pid_of", func(path string, rc *jobs.Context) error {
		return os.WriteFile(path, []byte(strconv.Itoa(rc.PID)), 0o644)
	}, jobs.WithClass(jobs.CPUBound))
	r.MustDefine("fails", func(ctx context.Context) error { return errors.New("deliberate failure") })
	r.MustDefine("fails_cpu", func() error { return errors.New("deliberate cpu failure") }, jobs.WithClass(jobs.CPUBound))
	r.MustDefine("panics_io", func() { panic("io kaboom") }, jobs.WithClass(jobs.IOBound))
	r.MustDefine("sum", func(a, b int) int { return a + b }, jobs.WithClass(jobs.IOBound))
	return r
}

type fixture struct {
	codec      *codec.Codec
	registry   *jobs.Registry
	dispatcher *Dispatcher
	logs       *testLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c, err := codec.New([]byte(testSecret))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	registry := testRegistry()

	pools := executor.NewPoolSet(executor.Config{
		ThreadWorkers:  2,
		ProcessWorkers: 2,
		Command: func(ctx context.Context) *exec.Cmd {
			cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^$")
			cmd.Env = append(os.Environ(), childEnv+"=1")
			return cmd
		},
	}, nil)
	t.Cleanup(func() { pools.Shutdown(context.Background()) })

	logs := newTestLogger()
	return &fixture{
		codec:      c,
		registry:   registry,
		dispatcher: NewDispatcher("default", c, registry, pools, slog.New(logs.handler())),
		logs:       logs,
	}
}

func (f *fixture) payload(t *testing.T, name string, args ...any) []byte {
	t.Helper()
	job, err := f.registry.Get(name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	env, err := jobs.NewEnvelope(job, args, nil)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	payload, err := f.codec.Sign(env)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return payload
}

func readWhere(t *testing.T, path string) (pid, tid int) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("job left no record: %v", err)
	}
	if _, err := fmt.Sscanf(string(data), "%d %d", &pid, &tid); err != nil {
		t.Fatalf("bad record %q: %v", data, err)
	}
	return pid, tid
}

func TestDispatcher_Routing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// subtests run on their own goroutines, so each pins itself
	lockThread := func(t *testing.T) int {
		runtime.LockOSThread()
		t.Cleanup(runtime.UnlockOSThread)
		return unix.Gettid()
	}

	t.Run("inline runs on the calling thread", func(t *testing.T) {
		callerTID := lockThread(t)
		path := filepath.Join(t.TempDir(), "where")
		if !f.dispatcher.RunJob(ctx, f.payload(t, "where_inline", path)) {
			t.Fatal("expected job to succeed")
		}
		pid, tid := readWhere(t, path)
		if pid != os.Getpid() {
			t.Errorf("got pid %d, want %d", pid, os.Getpid())
		}
		if tid != callerTID {
			t.Errorf("got thread %d, want caller thread %d", tid, callerTID)
		}
	})

	t.Run("io-bound runs on another thread of this process", func(t *testing.T) {
		callerTID := lockThread(t)
		path := filepath.Join(t.TempDir(), "where")
		if !f.dispatcher.RunJob(ctx, f.payload(t, "where_io", path)) {
			t.Fatal("expected job to succeed")
		}
		pid, tid := readWhere(t, path)
		if pid != os.Getpid() {
			t.Errorf("got pid %d, want %d", pid, os.Getpid())
		}
		if tid == callerTID {
			t.Errorf("io-bound job ran on the caller thread %d", tid)
		}
	})

	t.Run("cpu-bound runs in another process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "where")
		if !f.dispatcher.RunJob(ctx, f.payload(t, "where_cpu", path)) {
			t.Fatalf("expected job to succeed, logs: %+v", f.logs.getRecords())
		}
		pid, _ := readWhere(t, path)
		if pid == os.Getpid() {
			t.Errorf("cpu-bound job ran in the worker process %d", pid)
		}
	})
}

func TestDispatcher_ContextBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("queue run binds the runtime context", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ctx")
		if !f.dispatcher.RunJob(ctx, f.payload(t, "queue_of", path)) {
			t.Fatal("expected job to succeed")
		}
		data, _ := os.ReadFile(path)
		if string(data) != "default brokingworker-default" {
			t.Errorf("got %q, want %q", data, "default brokingworker-default")
		}
	})

	t.Run("direct call binds nil", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ctx")
		job, _ := f.registry.Get("queue_of")
		if _, err := job.Call(ctx, path); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "<nil>" {
			t.Errorf("got %q, want <nil>", data)
		}
	})

	t.Run("cpu child reports its own pid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pid")
		if !f.dispatcher.RunJob(ctx, f.payload(t, "cpu_pid_of", path)) {
			t.Fatal("expected job to succeed")
		}
		data, _ := os.ReadFile(path)
		if string(data) == strconv.Itoa(os.Getpid()) || string(data) == "0" {
			t.Errorf("got pid %s, want the child's pid", data)
		}
	})
}

func TestDispatcher_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
		message string
	}{
		{
			name:    "inline error",
			payload: func(t *testing.T) []byte { return f.payload(t, "fails") },
			message: "job failed",
		},
		{
			name:    "io panic",
			payload: func(t *testing.T) []byte { return f.payload(t, "panics_io") },
			message: "job failed",
		},
		{
			name:    "cpu error",
			payload: func(t *testing.T) []byte { return f.payload(t, "fails_cpu") },
			message: "job failed",
		},
		{
			name: "tampered payload",
			payload: func(t *testing.T) []byte {
				p := f.payload(t, "sum", 1, 2)
				p[len(p)-1] ^= 0x01
				return p
			},
			message: "payload rejected",
		},
		{
			name: "unknown job",
			payload: func(t *testing.T) []byte {
				other := jobs.MustDefine("not_registered", func(ctx context.Context) {})
				env, _ := jobs.NewEnvelope(other, nil, nil)
				p, _ := f.codec.Sign(env)
				return p
			},
			message: "payload rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.logs.clear()
			if f.dispatcher.RunJob(ctx, tt.payload(t)) {
				t.Fatal("expected job to fail")
			}
			if !f.logs.hasMessage(tt.message) {
				t.Errorf("expected %q log message", tt.message)
			}
			if !f.logs.hasError() {
				t.Error("expected an error-level log record")
			}
		})
	}
}

func TestDispatcher_LogsCompletion(t *testing.T) {
	f := newFixture(t)
	payload := f.payload(t, "sum", 2, 3)
	env, _ := f.codec.Open(payload)

	if !f.dispatcher.RunJob(context.Background(), payload) {
		t.Fatal("expected job to succeed")
	}

	if !f.logs.hasMessage("job completed") {
		t.Error("expected 'job completed' log message")
	}
	if !f.logs.hasAttr("job_id", env.ID) {
		t.Error("expected log to include job_id attribute")
	}
	if !f.logs.hasAttr("func", "sum") {
		t.Error("expected log to include func attribute")
	}
}

func TestRunChild_RejectsNonCPUJobs(t *testing.T) {
	f := newFixture(t)

	var in bytes.Buffer
	unit := executor.ProcessUnit{Payload: f.payload(t, "sum", 1, 1)}
	if err := executor.WriteUnit(&in, unit); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out bytes.Buffer
	err := RunChild(context.Background(), f.codec, f.registry, &in, &out)
	if err == nil || !strings.Contains(err.Error(), "not cpu-bound") {
		t.Errorf("got %v, want class error", err)
	}
}
