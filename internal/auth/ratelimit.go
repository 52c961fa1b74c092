package auth

import (
	"context"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	pkgerrors "judgehub/pkg/errors"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimiter enforces fixed-window limits using Redis.
type RateLimiter struct {
	cache        cache.BasicOps
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, window, redisTimeout time.Duration) *RateLimiter {
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &RateLimiter{cache: cacheClient, window: window, redisTimeout: redisTimeout}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, max int) error {
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, l.window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		ttl, ttlErr := l.cache.TTL(ctxCache, key)
		if ttlErr == nil && ttl <= 0 {
			_ = l.cache.Expire(ctxCache, key, l.window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RunnerRateLimit limits calls per authenticated runner on one route group.
// A nil limiter or non-positive max disables it.
func RunnerRateLimit(limiter *RateLimiter, routeKey string, max int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || max <= 0 {
			c.Next()
			return
		}
		runner, ok := RunnerFrom(c)
		if !ok {
			c.Next()
			return
		}
		key := fmt.Sprintf("runner:rate:%s:%s", runner.ID, routeKey)
		if err := limiter.Allow(c.Request.Context(), key, max); err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
