package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Окно чуть длиннее минуты, чтобы счётчик дожил до конца своей минуты.
const batchWindow = 70 * time.Second

// RateLimiter ограничивает частоту батч-операций по скользящему минутному
// окну. Это не кэш данных сторов: в редисе живут только счётчики.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// AllowBatch инкрементирует счётчик актора в минутном окне. Ключ включает
// действие: received и arrived лимитируются раздельными бюджетами.
func (rl *RateLimiter) AllowBatch(ctx context.Context, username, action string, limit int64) (bool, int64, error) {
	key := fmt.Sprintf("rl:batch:%s:%s:%s", username, action, time.Now().UTC().Format("200601021504"))
	return rl.allow(ctx, key, limit, batchWindow)
}

// allow делает INCR по ключу и ставит TTL, если ключ создаётся впервые.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
