package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Target names the store to open: a URL, or a Redis client built elsewhere.
// Exactly one must be set.
type Target struct {
	URL    string
	Client redis.UniversalClient
}

// Open returns the store for target. Supported URL schemes are redis,
// rediss, sqlite (sqlite://path/to/file.db or sqlite://:memory:) and memory.
func Open(ctx context.Context, target Target) (Store, error) {
	switch {
	case target.URL != "" && target.Client != nil:
		return nil, ErrConflictingTarget
	case target.Client != nil:
		return NewRedisStore(target.Client), nil
	case target.URL == "":
		return nil, ErrNoTarget
	}

	scheme, rest, ok := strings.Cut(target.URL, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, target.URL)
	}

	switch scheme {
	case "redis", "rediss":
		return OpenRedis(ctx, target.URL)
	case "sqlite", "sqlite3":
		if rest == "" {
			return nil, fmt.Errorf("%w: sqlite url has no path", ErrNoTarget)
		}
		return NewSQLiteStore(rest)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// ProcessLocal reports whether the store named by target lives only inside
// the process that opens it: memory:// and in-memory SQLite. Another process
// opening the same URL gets a separate, empty store.
func (t Target) ProcessLocal() bool {
	if t.Client != nil {
		return false
	}
	scheme, rest, ok := strings.Cut(t.URL, "://")
	if !ok {
		return false
	}
	switch scheme {
	case "memory":
		return true
	case "sqlite", "sqlite3":
		path, _, _ := strings.Cut(rest, "?")
		return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	}
	return false
}
