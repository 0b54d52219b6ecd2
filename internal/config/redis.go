package config

// Redis backs the redemption ledger when LEDGER_BACKEND=redis, the
// per-device rate limiter and the operator read cache.  If the server
// cannot be reached at startup NewRedisClient returns nil and callers
// degrade: rate limiting and caching are skipped, and a redis ledger
// cannot start.

import (
    "context"
    "crypto/tls"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//   REDIS_URL: full redis:// URL, takes precedence over everything below
//   REDIS_HOST and REDIS_PORT: hostname and port of the Redis server
//   REDIS_ADDR: host:port shorthand (REDIS_HOST/REDIS_PORT win when both are set)
//   REDIS_PASSWORD: optional password
//   REDIS_DB: database number (default 0)
//   REDIS_TLS: enable TLS when "true" or "1"
//   REDIS_POOL_SIZE: connection pool size (default 50)
// The returned client may be nil if a connection cannot be established.
func NewRedisClient() *redis.Client {
    opts, err := redisOptions()
    if err != nil {
        return nil
    }
    client := redis.NewClient(opts)
    // Ping the server with a short timeout.  Return nil on failure.
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}

func redisOptions() (*redis.Options, error) {
    var opts *redis.Options
    if u := os.Getenv("REDIS_URL"); u != "" {
        parsed, err := redis.ParseURL(u)
        if err != nil {
            return nil, err
        }
        opts = parsed
    } else {
        addr := os.Getenv("REDIS_ADDR")
        if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
            addr = host + ":" + port
        }
        if addr == "" {
            addr = "localhost:6379"
        }
        dbNum := 0
        if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
            if n, err := strconv.Atoi(dbStr); err == nil {
                dbNum = n
            }
        }
        opts = &redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), DB: dbNum}
        if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
            opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
        }
    }
    opts.PoolSize = envInt("REDIS_POOL_SIZE", 50)
    opts.MinIdleConns = opts.PoolSize / 10
    return opts, nil
}
