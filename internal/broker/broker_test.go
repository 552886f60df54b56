package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/queue"
	"github.com/albachteng/justjobs/internal/worker"
)

func waitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// gatedRunner holds every job until release is closed, then delegates.
type gatedRunner struct {
	next    Runner
	started chan []byte
	release chan struct{}
}

func newGatedRunner(next Runner) *gatedRunner {
	return &gatedRunner{
		next:    next,
		started: make(chan []byte, 16),
		release: make(chan struct{}),
	}
}

func (g *gatedRunner) RunJob(ctx context.Context, payload []byte) bool {
	g.started <- payload
	<-g.release
	return g.next.RunJob(ctx, payload)
}

type recordingRunner struct {
	mu      sync.Mutex
	c       *codec.Codec
	seen    []string
	succeed bool
}

func (r *recordingRunner) RunJob(ctx context.Context, payload []byte) bool {
	env, err := r.c.Open(payload)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, env.ID)
	return r.succeed
}

func (r *recordingRunner) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type fixture struct {
	store    *queue.MemoryStore
	codec    *codec.Codec
	registry *jobs.Registry
	greet    *jobs.Job
	boom     *jobs.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := codec.New([]byte("broker-test-secret"))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	registry := jobs.NewRegistry()
	greet := registry.MustDefine("greet", func(ctx context.Context, name string) string {
		return "hi " + name
	})
	boom := registry.MustDefine("boom", func(ctx context.Context) error {
		return errors.New("raised on purpose")
	})

	store := queue.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	return &fixture{store: store, codec: c, registry: registry, greet: greet, boom: boom}
}

func (f *fixture) dispatcher() *worker.Dispatcher {
	return worker.NewDispatcher("default", f.codec, f.registry, nil, nil)
}

func (f *fixture) envelope(t *testing.T, job *jobs.Job, args ...any) *jobs.Envelope {
	t.Helper()
	env, err := jobs.NewEnvelope(job, args, nil)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func (f *fixture) length(t *testing.T, key string) int64 {
	t.Helper()
	n, err := f.store.Len(context.Background(), key)
	if err != nil {
		t.Fatalf("len %s: %v", key, err)
	}
	return n
}

func fastConfig(policy FailurePolicy) Config {
	return Config{PollTimeout: 20 * time.Millisecond, FailurePolicy: policy}
}

func TestBroker_Enqueue(t *testing.T) {
	f := newFixture(t)
	b := New(f.store, f.codec, nil, DefaultConfig(), nil)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		n, err := b.Enqueue(ctx, "default", f.envelope(t, f.greet, "ada"))
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if n != int64(i) {
			t.Errorf("got length %d, want %d", n, i)
		}
	}

	items, _ := f.store.Range(ctx, "jobqueue:default")
	for _, p := range items {
		if _, err := f.codec.Open(p); err != nil {
			t.Errorf("stored payload does not verify: %v", err)
		}
	}
}

func TestBroker_GreetScenario(t *testing.T) {
	f := newFixture(t)
	runner := newGatedRunner(f.dispatcher())
	b := New(f.store, f.codec, runner, fastConfig(Leave), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := f.envelope(t, f.greet, "ada")
	if _, err := b.Enqueue(ctx, "default", env); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Process(ctx, "default") }()

	var claimed []byte
	select {
	case claimed = <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never claimed")
	}

	if n := f.length(t, "jobqueue:default"); n != 0 {
		t.Errorf("got pending length %d, want 0", n)
	}
	inFlight, _ := f.store.Range(ctx, "jobqueue:default-processing")
	if len(inFlight) != 1 || string(inFlight[0]) != string(claimed) {
		t.Fatalf("in-flight list does not hold the claimed payload: %d entries", len(inFlight))
	}
	if got, _ := f.codec.Open(inFlight[0]); got.ID != env.ID {
		t.Errorf("got job %s in flight, want %s", got.ID, env.ID)
	}

	close(runner.release)
	waitForCondition(t, func() bool {
		return f.length(t, "jobqueue:default-processing") == 0
	}, 2*time.Second, "in-flight list to drain")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("process returned %v", err)
	}
}

func TestBroker_FailingJobScenario(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	b := New(f.store, f.codec, d, fastConfig(Leave), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Enqueue(ctx, "default", f.envelope(t, f.boom))

	pending, _ := f.store.Range(ctx, "jobqueue:default")
	if d.RunJob(ctx, pending[0]) {
		t.Fatal("expected RunJob to report failure")
	}

	done := make(chan error, 1)
	go func() { done <- b.Process(ctx, "default") }()

	waitForCondition(t, func() bool {
		return f.length(t, "jobqueue:default") == 0 &&
			f.length(t, "jobqueue:default-processing") == 1
	}, 2*time.Second, "failed job to be claimed")
	cancel()
	if err := <-done; err != nil {
		t.Errorf("process returned %v", err)
	}

	inFlight, _ := f.store.Range(context.Background(), "jobqueue:default-processing")
	if len(inFlight) != 1 || string(inFlight[0]) != string(pending[0]) {
		t.Errorf("failed payload did not stay in flight")
	}
}

func TestBroker_FailurePolicies(t *testing.T) {
	tests := []struct {
		policy       FailurePolicy
		wantInFlight int64
		wantFailed   int64
	}{
		{Leave, 1, 0},
		{Discard, 0, 0},
		{DeadLetter, 0, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t)
			runner := &recordingRunner{c: f.codec, succeed: false}
			b := New(f.store, f.codec, runner, fastConfig(tt.policy), nil)

			ctx, cancel := context.WithCancel(context.Background())
			b.Enqueue(ctx, "default", f.envelope(t, f.boom))

			done := make(chan error, 1)
			go func() { done <- b.Process(ctx, "default") }()

			waitForCondition(t, func() bool {
				return len(runner.order()) == 1
			}, 2*time.Second, "job to run")
			waitForCondition(t, func() bool {
				return f.length(t, "jobqueue:default-processing") == tt.wantInFlight &&
					f.length(t, "jobqueue:default-failed") == tt.wantFailed
			}, 2*time.Second, "failure policy to apply")

			cancel()
			if err := <-done; err != nil {
				t.Errorf("process returned %v", err)
			}
		})
	}
}

// brokenMoveStore fails every MoveOne, as a store that drops its
// connection mid-call would.
type brokenMoveStore struct {
	*queue.MemoryStore
}

func (s brokenMoveStore) MoveOne(ctx context.Context, from, to string, payload []byte) (bool, error) {
	return false, errors.New("connection reset")
}

func TestBroker_DeadLetterIsOneStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, _ := f.codec.Sign(f.envelope(t, f.boom))
	f.store.PushTail(ctx, "jobqueue:default-processing", payload)

	b := New(brokenMoveStore{f.store}, f.codec, nil, fastConfig(DeadLetter), nil)
	if err := b.fail(ctx, b.logger, "default", payload); err == nil {
		t.Fatal("expected the store error to surface")
	}
	if n := f.length(t, "jobqueue:default-processing"); n != 1 {
		t.Errorf("got in-flight length %d, want 1", n)
	}
	if n := f.length(t, "jobqueue:default-failed"); n != 0 {
		t.Errorf("got failed length %d, want 0", n)
	}
}

func TestBroker_DeadLetterSkipsMissingPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, _ := f.codec.Sign(f.envelope(t, f.boom))

	// an operator requeued the entry while the job was still running
	b := New(f.store, f.codec, nil, fastConfig(DeadLetter), nil)
	if err := b.fail(ctx, b.logger, "default", payload); err != nil {
		t.Fatalf("fail returned %v", err)
	}
	if n := f.length(t, "jobqueue:default-failed"); n != 0 {
		t.Errorf("got failed length %d, want 0", n)
	}
}

func TestBroker_FIFO(t *testing.T) {
	f := newFixture(t)
	runner := &recordingRunner{c: f.codec, succeed: true}
	b := New(f.store, f.codec, runner, fastConfig(Leave), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var want []string
	for i := 0; i < 10; i++ {
		env := f.envelope(t, f.greet, fmt.Sprintf("user-%d", i))
		want = append(want, env.ID)
		b.Enqueue(ctx, "default", env)
	}

	done := make(chan error, 1)
	go func() { done <- b.Process(ctx, "default") }()

	waitForCondition(t, func() bool {
		return len(runner.order()) == len(want)
	}, 2*time.Second, "all jobs to run")
	cancel()
	<-done

	got := runner.order()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBroker_CancelFinishesRunningJob(t *testing.T) {
	f := newFixture(t)
	runner := newGatedRunner(&recordingRunner{c: f.codec, succeed: true})
	b := New(f.store, f.codec, runner, fastConfig(Leave), nil)
	ctx, cancel := context.WithCancel(context.Background())

	b.Enqueue(ctx, "default", f.envelope(t, f.greet, "ada"))

	done := make(chan error, 1)
	go func() { done <- b.Process(ctx, "default") }()

	<-runner.started
	cancel()

	select {
	case <-done:
		t.Fatal("process returned while its job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Errorf("process returned %v", err)
	}
	if n := f.length(t, "jobqueue:default-processing"); n != 0 {
		t.Errorf("got in-flight length %d, want 0 after acknowledgement", n)
	}
}

func TestBroker_CrashLeavesPayloadInFlight(t *testing.T) {
	f := newFixture(t)
	b := New(f.store, f.codec, nil, DefaultConfig(), nil)
	ctx := context.Background()

	env := f.envelope(t, f.greet, "ada")
	b.Enqueue(ctx, "default", env)

	// a consumer claims the job and dies before acknowledging it
	if _, err := f.store.MoveBlocking(ctx, "jobqueue:default", "jobqueue:default-processing", time.Second); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	stats, err := b.Inspect(ctx, "default")
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if stats.Pending != 0 || stats.InFlight != 1 || stats.Failed != 0 {
		t.Errorf("got %+v, want 0 pending, 1 in flight", stats)
	}

	entries, err := b.InFlight(ctx, "default")
	if err != nil {
		t.Fatalf("in-flight listing failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Err != nil || entries[0].Envelope.ID != env.ID {
		t.Fatalf("unexpected in-flight entries %+v", entries)
	}

	moved, err := b.Requeue(ctx, "default")
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if moved != 1 {
		t.Errorf("got %d moved, want 1", moved)
	}
	if n := f.length(t, "jobqueue:default"); n != 1 {
		t.Errorf("got pending length %d, want 1", n)
	}
}

func TestBroker_InFlightReportsUnverifiableEntries(t *testing.T) {
	f := newFixture(t)
	b := New(f.store, f.codec, nil, DefaultConfig(), nil)
	ctx := context.Background()

	f.store.PushTail(ctx, "jobqueue:default-processing", []byte("forged|payload"))

	entries, err := b.InFlight(ctx, "default")
	if err != nil {
		t.Fatalf("in-flight listing failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if !errors.Is(entries[0].Err, codec.ErrSignatureMismatch) {
		t.Errorf("got %v, want %v", entries[0].Err, codec.ErrSignatureMismatch)
	}
}

func TestBroker_RequeueFailed(t *testing.T) {
	f := newFixture(t)
	b := New(f.store, f.codec, nil, DefaultConfig(), nil)
	ctx := context.Background()

	payload, _ := f.codec.Sign(f.envelope(t, f.boom))
	f.store.PushTail(ctx, "jobqueue:default-failed", payload)

	entries, _ := b.Failed(ctx, "default")
	if len(entries) != 1 {
		t.Fatalf("got %d failed entries, want 1", len(entries))
	}

	moved, err := b.RequeueFailed(ctx, "default")
	if err != nil || moved != 1 {
		t.Errorf("got (%d, %v), want (1, nil)", moved, err)
	}
}

func TestBroker_StoreErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	b := New(f.store, f.codec, &recordingRunner{c: f.codec}, fastConfig(Leave), nil)
	f.store.Close()

	err := b.Process(context.Background(), "default")
	if !errors.Is(err, queue.ErrStoreClosed) {
		t.Errorf("got %v, want %v", err, queue.ErrStoreClosed)
	}

	_, err = b.Enqueue(context.Background(), "default", f.envelope(t, f.greet, "ada"))
	if !errors.Is(err, queue.ErrStoreClosed) {
		t.Errorf("got %v, want %v", err, queue.ErrStoreClosed)
	}
}

func TestBroker_ProcessWithoutRunner(t *testing.T) {
	f := newFixture(t)
	b := New(f.store, f.codec, nil, DefaultConfig(), nil)

	if err := b.Process(context.Background(), "default"); !errors.Is(err, ErrNoRunner) {
		t.Errorf("got %v, want %v", err, ErrNoRunner)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	for _, s := range []string{"leave", "discard", "dead-letter"} {
		if _, err := ParseFailurePolicy(s); err != nil {
			t.Errorf("%s: unexpected error %v", s, err)
		}
	}
	if _, err := ParseFailurePolicy("retry"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
