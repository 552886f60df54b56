package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func noop(ctx context.Context) error { return nil }

func TestRegistry_Register(t *testing.T) {
	t.Run("registers job under its name", func(t *testing.T) {
		registry := NewRegistry()
		job := MustDefine("test", noop)

		if err := registry.Register(job); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		retrieved, err := registry.Get("test")
		if err != nil {
			t.Fatalf("expected to retrieve job, got error: %v", err)
		}

		if retrieved != job {
			t.Error("expected the registered job back")
		}
	})

	t.Run("returns error when registering duplicate name", func(t *testing.T) {
		registry := NewRegistry()

		registry.MustRegister(MustDefine("duplicate", noop))

		err := registry.Register(MustDefine("duplicate", noop))
		if !errors.Is(err, ErrJobExists) {
			t.Errorf("expected ErrJobExists, got %v", err)
		}
	})

	t.Run("thread-safe concurrent registration", func(t *testing.T) {
		registry := NewRegistry()

		var wg sync.WaitGroup
		numGoroutines := 10

		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()

				name := fmt.Sprintf("job-%d", id)
				if _, err := registry.Define(name, noop); err != nil {
					t.Errorf("concurrent registration failed for %s: %v", name, err)
				}
			}(i)
		}

		wg.Wait()

		if names := registry.Names(); len(names) != numGoroutines {
			t.Errorf("got %d names, want %d", len(names), numGoroutines)
		}
	})

	t.Run("MustRegister panics on duplicate", func(t *testing.T) {
		registry := NewRegistry()
		registry.MustRegister(MustDefine("once", noop))

		defer func() {
			if recover() == nil {
				t.Error("expected panic on duplicate MustRegister")
			}
		}()
		registry.MustRegister(MustDefine("once", noop))
	})
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("missing")
	if !errors.Is(err, ErrUnresolvedCallable) {
		t.Errorf("expected ErrUnresolvedCallable, got %v", err)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	registry := NewRegistry()
	job := registry.MustDefine("greet", noop)
	stray := MustDefine("greet", noop)

	tests := []struct {
		name    string
		target  any
		want    *Job
		wantErr error
	}{
		{name: "registered job", target: job, want: job},
		{name: "registered name", target: "greet", want: job},
		{name: "unknown name", target: "nope", wantErr: ErrNotCallable},
		{name: "job defined but not registered", target: stray, wantErr: ErrNotCallable},
		{name: "plain function", target: noop, wantErr: ErrNotCallable},
		{name: "nil", target: nil, wantErr: ErrNotCallable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := registry.Resolve(tt.target)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("resolved the wrong job")
			}
		})
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	registry := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		registry.MustDefine(n, noop)
	}

	names := registry.Names()
	want := []string{"a", "b", "c"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}
