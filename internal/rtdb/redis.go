package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds the optimistic-transaction loop in Update. Hitting
// the bound means pathological contention on a single path and is reported
// as a store error rather than spinning forever.
const maxUpdateRetries = 16

// RedisStore implements Store on top of a Redis instance: one key per path,
// JSON values, WATCH/MULTI optimistic transactions for Update, and pub/sub
// fan-out for Subscribe.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. Keys are prefixed so the store can
// share an instance with the queue.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rtdb"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(path string) string     { return s.prefix + ":" + path }
func (s *RedisStore) channel(path string) string { return s.prefix + ":ch:" + path }

// Read returns the value at path, nil when the key does not exist.
func (s *RedisStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	return val, nil
}

// Write stores value at path and publishes it to subscribers.
func (s *RedisStore) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := s.client.Set(ctx, s.key(path), []byte(raw), 0).Err(); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, err)
	}
	s.publish(ctx, path, raw)
	return nil
}

// Subscribe delivers the current value, then every published write, on a
// dedicated goroutine until the returned function is called.
func (s *RedisStore) Subscribe(path string, fn func(json.RawMessage)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, s.channel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, path, err)
	}

	current, err := s.Read(ctx, path)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		fn(current)
		for msg := range pubsub.Channel() {
			fn(json.RawMessage(msg.Payload))
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

// Update runs fn inside a WATCH/MULTI loop so that concurrent updates on the
// same path serialize: the SET is discarded and fn re-run whenever the key
// changed between the read and the commit.
func (s *RedisStore) Update(ctx context.Context, path string, fn UpdateFunc) (UpdateResult, error) {
	key := s.key(path)
	var result UpdateResult

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				old = nil
			} else if err != nil {
				return err
			}

			next, commit := fn(old)
			if !commit {
				result = UpdateResult{Committed: false, Value: old}
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, []byte(next), 0)
				return nil
			})
			if err != nil {
				return err
			}
			result = UpdateResult{Committed: true, Value: next}
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return UpdateResult{}, fmt.Errorf("%w: update %s: %v", ErrUnavailable, path, err)
		}
		if result.Committed {
			s.publish(ctx, path, result.Value)
		}
		return result, nil
	}
	return UpdateResult{}, fmt.Errorf("%w: update %s: too many conflicting writers", ErrUnavailable, path)
}

func (s *RedisStore) publish(ctx context.Context, path string, raw json.RawMessage) {
	// Best effort: losing a notification degrades the watcher, not the data.
	if err := s.client.Publish(ctx, s.channel(path), string(raw)).Err(); err != nil {
		return
	}
}
