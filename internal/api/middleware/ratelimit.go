package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// SlidingWindow counts requests per key in a Redis sorted set over the last
// window.
type SlidingWindow struct {
	redis  *redis.Client
	name   string
	window time.Duration
	max    int
	now    func() time.Time
}

func NewSlidingWindow(rdb *redis.Client, name string, window time.Duration, max int) *SlidingWindow {
	return &SlidingWindow{redis: rdb, name: name, window: window, max: max, now: time.Now}
}

func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := fmt.Sprintf("rate_limit:%s:%s", l.name, key)
	now := l.now()
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, k)
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, k, l.window*2)
	oldest := pipe.ZRangeWithScores(ctx, k, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis pipeline error: %w", err)
	}

	if count.Val() < int64(l.max) {
		return true, 0, nil
	}

	retry := l.window
	if zs := oldest.Val(); len(zs) > 0 {
		retry = time.UnixMilli(int64(zs[0].Score)).Add(l.window).Sub(now)
	}
	return false, retry, nil
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors let the request through.
func RateLimit(l Limiter, keyFn func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyFn(c)
			allowed, retry, err := l.Allow(c.Request().Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable for %s: %v", key, err)
				return next(c)
			}
			if !allowed {
				secs := int(math.Ceil(retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// UserOrIPKey keys authenticated callers by user id and the rest by IP.
func UserOrIPKey(c echo.Context) string {
	if id := UserID(c); id != "" {
		return "user:" + id
	}
	return "ip:" + c.RealIP()
}
