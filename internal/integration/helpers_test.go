package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/albachteng/justjobs/internal/broker"
	"github.com/albachteng/justjobs/internal/codec"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/manager"
	"github.com/albachteng/justjobs/internal/queue"
)

const testSecret = "integration-secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors to keep test output clean
	}))
}

// redisManager runs a manager whose in-process workers each open their own
// connection to a miniredis server, the way separate worker processes would.
func redisManager(t *testing.T, registry *jobs.Registry, policy broker.FailurePolicy) (*manager.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := manager.DefaultConfig()
	cfg.Secret = []byte(testSecret)
	cfg.Store = queue.Target{URL: "redis://" + mr.Addr()}
	cfg.CoroutinesPerWorker = 3
	cfg.PollTimeout = 100 * time.Millisecond
	cfg.ThreadWorkers = 2
	cfg.ProcessWorkers = 1
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.FailurePolicy = policy

	m, err := manager.New(cfg,
		manager.WithRegistry(registry),
		manager.WithSpawner(manager.LocalSpawner{}),
		manager.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, mr
}

// operatorBroker is what an operator tool would build: a broker on the same
// store with no runner.
func operatorBroker(t *testing.T, mr *miniredis.Miniredis) *broker.Broker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := queue.NewRedisStore(client)
	t.Cleanup(func() { store.Close() })

	c, err := codec.New([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return broker.New(store, c, nil, broker.DefaultConfig(), quietLogger())
}

func waitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %s", message)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func stats(t *testing.T, m *manager.Manager, q string) broker.Stats {
	t.Helper()
	s, err := m.Inspect(context.Background(), q)
	if err != nil {
		t.Fatalf("inspect %s: %v", q, err)
	}
	return s
}
