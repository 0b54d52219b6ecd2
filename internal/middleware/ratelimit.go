package middleware

import (
    "context"
    "fmt"
    "log/slog"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/event-checkin/internal/config"
)

// takeToken refills the bucket in whole intervals and takes one token.
// It returns {allowed, remaining, retry_after_ms}.
var takeToken = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last = tonumber(state[2])
    if tokens == nil or last == nil then
        tokens = capacity
        last = now_ms
    end

    local intervals = math.floor(math.max(0, now_ms - last) / interval_ms)
    if intervals > 0 then
        tokens = math.min(capacity, tokens + intervals * refill)
        last = last + intervals * interval_ms
    end

    local allowed = 0
    local wait = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        wait = math.max(0, interval_ms - (now_ms - last))
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last)
    redis.call('EXPIRE', key, ttl)
    return { allowed, tokens, wait }
`)

// decision is the limiter's answer for one request.
type decision struct {
    Allowed    bool
    Remaining  int64
    RetryAfter time.Duration
}

type tokenBucket struct {
    cfg config.RateLimitConfig
    rdb *redis.Client
    now func() time.Time
}

func (b *tokenBucket) take(ctx context.Context, key string) (decision, error) {
    vals, err := takeToken.Run(ctx, b.rdb, []string{key},
        b.now().UnixMilli(),
        b.cfg.Capacity,
        b.cfg.RefillTokens,
        b.cfg.RefillInterval.Milliseconds(),
        int64(b.cfg.TTL/time.Second),
    ).Result()
    if err != nil {
        return decision{}, err
    }
    return parseDecision(vals)
}

func parseDecision(v any) (decision, error) {
    arr, ok := v.([]any)
    if !ok || len(arr) != 3 {
        return decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", v)
    }
    return decision{
        Allowed:    asInt64(arr[0]) == 1,
        Remaining:  asInt64(arr[1]),
        RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
    }, nil
}

// NewTokenBucket limits device requests with a token bucket kept in
// Redis, keyed per cfg.KeyStrategy.  Without Redis the middleware is a
// no-op, and a Redis failure lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    b := &tokenBucket{cfg: cfg, rdb: rdb, now: time.Now}

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            d, err := b.take(c.Request().Context(), key)
            if err != nil {
                slog.Warn("ratelimit: bypassed", "key", key, "err", err)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if d.Allowed {
                return next(c)
            }

            secs := int(math.Ceil(d.RetryAfter.Seconds()))
            h.Set("Retry-After", strconv.Itoa(secs))
            if cfg.Debug {
                slog.Info("ratelimit: blocked", "key", key, "retry_after", d.RetryAfter)
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "rate limit exceeded",
                "retry_after": secs,
            })
        }
    }
}

func asInt64(v any) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int:
        return int64(t)
    case float64:
        return int64(t)
    case string:
        n, _ := strconv.ParseInt(t, 10, 64)
        return n
    }
    return 0
}

// buildRateKey names the bucket.  Devices are identified by their token
// subject; "ip" is for routes in front of unauthenticated callers.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    parts := []string{cfg.Prefix}
    device := Subject(c)
    if device == "" {
        device = "anonymous"
    }

    switch strings.ToLower(cfg.KeyStrategy) {
    case "device":
        parts = append(parts, "device", device)
    case "ip":
        ip := c.RealIP()
        if ip == "" {
            ip = "unknown"
        }
        parts = append(parts, "ip", ip)
    default:
        parts = append(parts, "device", device, "route", c.Request().Method+" "+c.Path())
    }
    return strings.Join(parts, ":")
}
