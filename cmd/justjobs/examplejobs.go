package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/albachteng/justjobs/internal/jobs"
)

// registerExampleJobs installs the jobs this binary can run. Every process
// built from it, manager, worker or run-job child, registers the same set.
func registerExampleJobs(r *jobs.Registry) {
	r.MustDefine("greet", greet)
	r.MustDefine("fetch", fetch, jobs.WithClass(jobs.IOBound))
	r.MustDefine("digest", digest, jobs.WithClass(jobs.CPUBound))
	r.MustDefine("sleep", sleep)
}

func greet(ctx context.Context, name string, rc *jobs.Context, kw jobs.Kwargs) (string, error) {
	greeting := "hello"
	if _, err := kw.Decode("greeting", &greeting); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("%s, %s", greeting, name)
	if rc != nil {
		slog.InfoContext(ctx, msg, "job_id", rc.JobID, "queue", rc.Queue)
	}
	return msg, nil
}

// fetch stands in for blocking network I/O.
func fetch(rc *jobs.Context, url string) string {
	time.Sleep(100 * time.Millisecond)
	if rc != nil {
		slog.Info("fetched", "url", url, "job_id", rc.JobID, "worker", rc.Worker)
	}
	return url
}

// digest hashes data rounds times.
func digest(data string, rounds int) (string, error) {
	if rounds < 1 {
		return "", fmt.Errorf("rounds must be positive, got %d", rounds)
	}
	sum := []byte(data)
	for i := 0; i < rounds; i++ {
		h := blake2b.Sum256(sum)
		sum = h[:]
	}
	return hex.EncodeToString(sum), nil
}

func sleep(ctx context.Context, ms int) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
