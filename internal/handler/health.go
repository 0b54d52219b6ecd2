package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http" // net/http provides status codes and response helpers
    "time"

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Pinger is a dependency whose reachability decides server health.
// *sql.DB satisfies it directly.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Health returns the health-check endpoint.  Scanning devices use it as
// their connectivity probe, so it only answers 200 "ok" when the ledger
// dependencies respond within a second; otherwise 503.
func Health(deps ...Pinger) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
        defer cancel()
        for _, d := range deps {
            if err := d.PingContext(ctx); err != nil {
                c.Logger().Warnf("health: dependency down: %v", err)
                return c.String(http.StatusServiceUnavailable, "unavailable")
            }
        }
        return c.String(http.StatusOK, "ok")
    }
}
