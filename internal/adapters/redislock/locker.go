// Package redislock implements ports.Locker on Redis so that several engine
// processes never promote the same experiment at once.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultPrefix = "mvariant:lock:"
	DefaultTTL    = 10 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Locker)

func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithTTL bounds how long a lock survives a holder that never releases it.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

func New(client *redis.Client, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

func (l *Locker) key(key string) string {
	return l.prefix + key
}

func (l *Locker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	lockKey := l.key(key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	l.logger.Debug("lock acquired", "key", lockKey, "ttl", l.ttl)

	return func() {
		// The caller's context may already be done when it unlocks.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		released, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int64()
		if err != nil {
			l.logger.Warn("failed to release lock", "key", lockKey, "error", err)
			return
		}
		if released == 0 {
			l.logger.Warn("lock expired before release", "key", lockKey)
		}
	}, true, nil
}

func (l *Locker) Close() error {
	return l.client.Close()
}
