package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	backoffStart = 1 * time.Second
	backoffCap   = 15 * time.Second
)

// Redis is the production Client, backed by go-redis's UniversalClient —
// the same client type the pack's kvtools-redis store wraps, so a single
// Redis, Sentinel, or Cluster configuration works unchanged here.
type Redis struct {
	client redis.UniversalClient
	logger *zap.Logger
	// running is the monotonic IsRunning flag (spec.md §4.2): 0 -> 1 on
	// Start, 1 -> 0 on Stop, and Stop never re-arms it.
	running atomic.Bool
}

// NewRedis wraps an already-configured go-redis client. Construction of
// the redis.UniversalClient (address, TLS, auth) is a configuration
// concern left to cmd/rtpd.
func NewRedis(client redis.UniversalClient, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger.Named("store")}
}

func (r *Redis) Start() { r.running.Store(true) }
func (r *Redis) Stop()  { r.running.Store(false) }

func (r *Redis) IsRunning() bool { return r.running.Load() }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if !r.IsRunning() {
		return "", false, nil
	}
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if !r.IsRunning() {
		return nil
	}
	return r.client.SetEx(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, key string) error {
	if !r.IsRunning() {
		return nil
	}
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if !r.IsRunning() {
		return 0, false, nil
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if ttl < 0 {
		// -1: key exists with no TTL, -2: key does not exist.
		return 0, false, nil
	}
	return ttl, true, nil
}

// Scan iterates the full keyspace with SCAN (not KEYS), so it never
// blocks the Redis event loop even against a large keyspace.
func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	if !r.IsRunning() {
		return nil, nil
	}
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Redis) Publish(ctx context.Context, channel, message string) error {
	if !r.IsRunning() {
		return nil
	}
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe reconnects the underlying pub/sub connection with exponential
// backoff starting at 1s and capped at 15s (spec.md §4.2). It returns once
// ctx is cancelled, or after Stop once the next message arrives.
//
// Grounded in the teacher's websocket.Hub.Run single-writer event loop:
// the same shape — one goroutine owning all mutable subscription state,
// driven by select — here drives reconnect/backoff instead of client
// registration.
func (r *Redis) Subscribe(ctx context.Context, channel string, onMessage func(message string)) {
	backoff := backoffStart

	for {
		if ctx.Err() != nil || !r.IsRunning() {
			return
		}

		connectedAt := time.Now()
		pubsub := r.client.Subscribe(ctx, channel)
		if err := r.runSubscription(ctx, pubsub, onMessage); err != nil {
			r.logger.Warn("pub/sub connection dropped, reconnecting",
				zap.String("channel", channel),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			// A connection that stayed up past the backoff cap was healthy;
			// don't let an old, inflated backoff punish the next attempt.
			if time.Since(connectedAt) >= backoffCap {
				backoff = backoffStart
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}

		// runSubscription only returns nil when ctx was cancelled or Stop
		// was called — either way, we're done.
		return
	}
}

// runSubscription drains messages from a single pub/sub connection until
// it errors, ctx is cancelled, or the client is stopped. It returns nil
// only on deliberate shutdown — any other exit path is treated as a
// connection drop by the caller.
func (r *Redis) runSubscription(ctx context.Context, pubsub *redis.PubSub, onMessage func(string)) error {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pub/sub channel closed")
			}
			if !r.IsRunning() {
				return nil
			}
			onMessage(msg.Payload)
		}
	}
}
