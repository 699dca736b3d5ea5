// Package redislock serializes work on a fingerprint across replicas with a
// Redis lease. Each held lease is renewed in the background until released.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the lease length. The lease is renewed every TTL/3 while held.
	DefaultTTL = 10 * time.Second

	keyPrefix      = "pams:lock:"
	retryDelay     = 25 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Locker implements alerting.Locker over Redis.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger log.Logger
}

// New creates a Locker using client. A non-positive ttl takes DefaultTTL.
func New(client redis.UniversalClient, ttl time.Duration, logger log.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Lock blocks until the lease on key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := keyPrefix + key
	token := ulid.Make().String()

	for {
		ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	wctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go l.renew(wctx, rkey, token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{rkey}, token).Err(); err != nil {
				l.logger.Warn(rctx, "lock release failed, lease will expire", "key", key, "error", err.Error())
			}
		})
	}, nil
}

// renew extends the lease every ttl/3 until ctx is cancelled or the lease is lost.
func (l *Locker) renew(ctx context.Context, rkey, token string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.client, []string{rkey}, token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn(ctx, "lock renewal failed", "key", rkey, "error", err.Error())
				}
				continue
			}
			if n == 0 {
				l.logger.Warn(ctx, "lock lease lost before release", "key", rkey)
				return
			}
		}
	}
}
