package lock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	DefaultTTL          = 2 * time.Minute
	DefaultPollInterval = 50 * time.Millisecond
	DefaultKeyPrefix    = "sanctions:lock:"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token.
var extendScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is an advisory lock shared by every process using the same Redis.
type RedisLocker struct {
	client       rueidis.Client
	logger       *zap.Logger
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

// NewRedisLocker creates a locker. ttl bounds how long a crashed holder
// can block others. A live holder renews the key every ttl/3, so a pass may
// run longer than ttl as long as the holder keeps reaching Redis.
func NewRedisLocker(client rueidis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client:       client,
		logger:       logger.Named("redis_lock"),
		prefix:       DefaultKeyPrefix,
		ttl:          ttl,
		pollInterval: DefaultPollInterval,
	}
}

// Lock polls SET NX until it wins or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	for {
		err := r.client.Do(ctx, r.client.B().Set().Key(redisKey).Value(token).Nx().
			Px(r.ttl).Build()).Error()
		if err == nil {
			break
		}
		if !rueidis.IsRedisNil(err) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
		case <-time.After(r.pollInterval):
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go r.renew(redisKey, token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Exec(releaseCtx, r.client, []string{redisKey}, []string{token}).Error(); err != nil {
				r.logger.Warn("Failed to release lock",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}, nil
}

// renew extends the key until stop is closed or the token is gone.
func (r *RedisLocker) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	ttl := strconv.FormatInt(r.ttl.Milliseconds(), 10)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := extendScript.Exec(ctx, r.client, []string{redisKey}, []string{token, ttl}).AsInt64()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("Failed to renew lock", zap.String("key", redisKey), zap.Error(err))
		case n == 0:
			r.logger.Warn("Lock lost before release", zap.String("key", redisKey))
			return
		}
	}
}
