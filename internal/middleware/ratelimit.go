package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucket atomically refills and takes one token from a per-key bucket.
// It returns {allowed, remaining, burst}.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])

	local tokens_key = key .. ":tokens"
	local timestamp_key = key .. ":ts"

	local tokens = tonumber(redis.call('GET', tokens_key) or burst)
	local last_update = tonumber(redis.call('GET', timestamp_key) or now)

	local elapsed = math.max(0, now - last_update)
	tokens = math.min(burst, tokens + elapsed * rate)

	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end

	local ttl = math.max(window * 2, math.ceil(burst / rate) + 1)
	redis.call('SET', tokens_key, tokens, 'EX', ttl)
	redis.call('SET', timestamp_key, now, 'EX', ttl)
	return {allowed, math.floor(tokens), burst}
`)

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained refill rate per client
	RequestsPerSecond int

	// Burst is the bucket capacity per client
	Burst int

	// KeyPrefix namespaces the bucket keys in Redis
	KeyPrefix string
}

// RateLimiter provides distributed per-client rate limiting using Redis.
type RateLimiter struct {
	client redis.UniversalClient
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter. The Redis connection is checked
// before the limiter is returned.
func NewRateLimiter(ctx context.Context, client redis.UniversalClient, cfg RateLimitConfig, logger *zap.Logger) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg.RequestsPerSecond < 1 || cfg.Burst < 1 {
		return nil, fmt.Errorf("rate limit requires requests_per_second and burst > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RateLimiter{
		client: client,
		logger: logger.Named("ratelimit"),
		config: cfg,
		now:    time.Now,
	}, nil
}

// Middleware returns a Gin middleware function for rate limiting.
// Requests are keyed by client IP. Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c) {
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(c *gin.Context) bool {
	key := rl.config.KeyPrefix + ":" + c.ClientIP()
	now := rl.now().Unix()
	const windowSize = int64(1)

	result, err := tokenBucket.Run(c.Request.Context(), rl.client, []string{key},
		now, rl.config.RequestsPerSecond, rl.config.Burst, windowSize).Int64Slice()
	if err != nil || len(result) < 3 {
		rl.logger.Error("rate limit check failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	allowed, remaining, limit := result[0] == 1, result[1], result[2]

	c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(now+windowSize, 10))

	if allowed {
		return true
	}

	c.Header("Retry-After", strconv.FormatInt(windowSize, 10))
	rl.logger.Warn("rate limit exceeded",
		zap.String("key", key),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("correlation_id", CorrelationID(c)),
	)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":   http.StatusText(http.StatusTooManyRequests),
		"message": "Rate limit exceeded, retry later",
	})
	return false
}
