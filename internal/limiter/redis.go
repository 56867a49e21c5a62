package limiter

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "wc:limiter:"

// Redis is a limiter shared by every replica through Redis.
// Failures live in a counter that expires one window after the last failure;
// a block is a separate key whose TTL is the remaining block time.
type Redis struct {
	client   redis.UniversalClient
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(client redis.UniversalClient, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{client: client, window: window, maxFails: maxFails, blockFor: blockFor}
}

func redisKeys(scope string, keyHash []byte) (fails, block string) {
	base := redisPrefix + scope + ":" + hex.EncodeToString(keyHash)
	return base + ":fails", base + ":block"
}

// Allow reports whether attempts are currently allowed.
func (l *Redis) Allow(ctx context.Context, scope string, keyHash []byte) (bool, time.Duration, error) {
	_, blockKey := redisKeys(scope, keyHash)
	ttl, err := l.client.PTTL(ctx, blockKey).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: no key, -1: no expiry (never set by us)
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears counters and any block.
func (l *Redis) Success(ctx context.Context, scope string, keyHash []byte) error {
	failKey, blockKey := redisKeys(scope, keyHash)
	return l.client.Del(ctx, failKey, blockKey).Err()
}

// Failure records a failed attempt and blocks once maxFails is reached.
func (l *Redis) Failure(ctx context.Context, scope string, keyHash []byte) (bool, time.Duration, error) {
	failKey, blockKey := redisKeys(scope, keyHash)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, failKey)
		p.PExpire(ctx, failKey, l.window)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if int(incr.Val()) < l.maxFails {
		return false, 0, nil
	}
	if err := l.client.Set(ctx, blockKey, 1, l.blockFor).Err(); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}
