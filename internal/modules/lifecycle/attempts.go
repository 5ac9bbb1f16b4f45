// README: OTP attempt counters (Redis INCR/EXPIRE, plus an in-memory variant).
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ridewise/internal/types"
)

// AttemptLimiter counts OTP submissions per ride within a window.
type AttemptLimiter interface {
	// Register records one attempt and returns the count inside the window.
	Register(ctx context.Context, rideID types.ID) (int64, error)
	Reset(ctx context.Context, rideID types.ID) error
}

const attemptKeyPrefix = "lifecycle:otp_attempts:%s"

type RedisAttemptLimiter struct {
	redis  *redis.Client
	window time.Duration
}

func NewRedisAttemptLimiter(redis *redis.Client, window time.Duration) *RedisAttemptLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisAttemptLimiter{redis: redis, window: window}
}

func (l *RedisAttemptLimiter) Register(ctx context.Context, rideID types.ID) (int64, error) {
	key := fmt.Sprintf(attemptKeyPrefix, rideID)
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (l *RedisAttemptLimiter) Reset(ctx context.Context, rideID types.ID) error {
	return l.redis.Del(ctx, fmt.Sprintf(attemptKeyPrefix, rideID)).Err()
}

type MemoryAttemptLimiter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	counts map[types.ID][]time.Time
}

func NewMemoryAttemptLimiter(window time.Duration) *MemoryAttemptLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &MemoryAttemptLimiter{window: window, now: time.Now, counts: make(map[types.ID][]time.Time)}
}

func (l *MemoryAttemptLimiter) Register(ctx context.Context, rideID types.ID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.counts[rideID][:0]
	for _, t := range l.counts[rideID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.counts[rideID] = kept
	return int64(len(kept)), nil
}

func (l *MemoryAttemptLimiter) Reset(ctx context.Context, rideID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, rideID)
	return nil
}
