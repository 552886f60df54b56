package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// moveOneScript removes one matching element and appends it to the
// destination inside a single server-side step.
var moveOneScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisStore maps the list operations onto Redis list commands. Moves use
// BLMOVE from the left of the source to the right of the destination, so
// both lists stay head-first FIFO.
type RedisStore struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedisStore wraps a client built by the caller. Close leaves that client
// open.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects to the server at url and checks it answers.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, owned: true}, nil
}

func (s *RedisStore) PushTail(ctx context.Context, key string, payload []byte) (int64, error) {
	return s.client.RPush(ctx, key, payload).Result()
}

// blockTimeout rounds a positive wait up to whole seconds, at least one.
// go-redis sends BLMOVE timeouts in seconds and warns on every call given a
// shorter one. Zero and below mean wait forever.
func blockTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	rounded := d.Truncate(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	return rounded
}

// MoveBlocking waits with whole-second granularity: a timeout of 1.2s waits
// up to 2s on the server.
func (s *RedisStore) MoveBlocking(ctx context.Context, from, to string, timeout time.Duration) ([]byte, error) {
	payload, err := s.client.BLMove(ctx, from, to, "LEFT", "RIGHT", blockTimeout(timeout)).Bytes()
	if err != nil {
		// A cancelled caller gets ctx.Err() even when the server answered nil.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

func (s *RedisStore) Move(ctx context.Context, from, to string) ([]byte, error) {
	payload, err := s.client.LMove(ctx, from, to, "LEFT", "RIGHT").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return payload, err
}

func (s *RedisStore) RemoveOne(ctx context.Context, key string, payload []byte) (int64, error) {
	return s.client.LRem(ctx, key, 1, payload).Result()
}

func (s *RedisStore) MoveOne(ctx context.Context, from, to string, payload []byte) (bool, error) {
	n, err := moveOneScript.Run(ctx, s.client, []string{from, to}, payload).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) Range(ctx context.Context, key string) ([][]byte, error) {
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item))
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
