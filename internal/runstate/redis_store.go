package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still carries our token, so a
// holder whose lease expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements the lock and run history on Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "iris:import:",
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Acquire takes the import lock for ttl. It returns ErrLocked when another
// run holds it.
func (s *RedisStore) Acquire(ctx context.Context, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.key("lock"), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire import lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, s.client, []string{s.key("lock")}, token).Err(); err != nil {
			return fmt.Errorf("release import lock: %w", err)
		}
		return nil
	}, nil
}

// SaveRun stores s as the last run and prepends it to the history.
func (s *RedisStore) SaveRun(ctx context.Context, run Summary) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("last"), payload, 0)
		pipe.LPush(ctx, s.key("history"), payload)
		pipe.LTrim(ctx, s.key("history"), 0, historyLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

// LastRun returns the most recently saved run.
func (s *RedisStore) LastRun(ctx context.Context) (Summary, error) {
	payload, err := s.client.Get(ctx, s.key("last")).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, ErrNoRun
	}
	if err != nil {
		return Summary{}, fmt.Errorf("lookup last run: %w", err)
	}
	var run Summary
	if err := json.Unmarshal(payload, &run); err != nil {
		return Summary{}, fmt.Errorf("unmarshal run summary: %w", err)
	}
	return run, nil
}

// Recent returns up to n runs, newest first.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]Summary, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, s.key("history"), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Summary, 0, len(items))
	for _, item := range items {
		var run Summary
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			return nil, fmt.Errorf("unmarshal run summary: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
