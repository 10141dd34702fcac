// Package redislock implements keylock.Locker as a Redis lease so that
// several service replicas serialize work on the same key.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-repair/internal/pkg/keylock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL           = 2 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
	defaultPrefix        = "incidentrepair:lock:"
	releaseTimeout       = 2 * time.Second
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds lease settings.
type Config struct {
	// TTL bounds how long a crashed holder can block a key.
	// It must exceed the longest operation performed under the lock.
	TTL           time.Duration
	RetryInterval time.Duration
	WaitTimeout   time.Duration
	Prefix        string
}

// Locker is a Redis-backed keylock.Locker.
type Locker struct {
	client redis.UniversalClient
	config Config
}

// New creates a Redis locker.
func New(client redis.UniversalClient, config Config) *Locker {
	if config.TTL == 0 {
		config.TTL = defaultTTL
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}
	return &Locker{client: client, config: config}
}

// Lock polls SET NX until the lease is taken or the context expires.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.WaitTimeout)
		defer cancel()
	}

	redisKey := l.config.Prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			return l.unlocker(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", keylock.ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			slog.Error("failed to release lease", "key", redisKey, "error", err)
		}
	}
}
