package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/handler"
	"github.com/iliyamo/event-checkin/internal/middleware"
	"github.com/iliyamo/event-checkin/internal/utils"
)

// Deps are the handlers and shared infrastructure the routes need.
// Redis is optional; without it rate limiting and caching are off.
type Deps struct {
	JWTSecret   string
	Health      echo.HandlerFunc
	Metrics     http.Handler
	Credentials *handler.CredentialHandler
	Ledger      *handler.LedgerHandler
	Checkins    *handler.CheckinHandler
	RateLimit   config.RateLimitConfig
	Cache       config.CacheConfig
	Redis       *redis.Client
}

// RegisterRoutes registers routes that do not require authentication:
// the health check devices probe and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAPI registers the authenticated /v1 API.  Every route checks
// the JWT first and then the role; device routes are also rate limited
// per device.
func RegisterAPI(e *echo.Echo, d Deps) {
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(d.JWTSecret))

	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)
	cache := middleware.NewRedisCache(d.Cache, d.Redis)
	device := middleware.RequireRole(utils.RoleDevice)
	operator := middleware.RequireRole(utils.RoleOperator)

	// Booking system
	v1.POST("/credentials", d.Credentials.Issue, middleware.RequireRole(utils.RoleIssuer))

	// Scanning devices
	v1.POST("/ledger/redemptions", d.Ledger.Redeem, device, limit)
	v1.POST("/checkins/scan", d.Checkins.Scan, device, limit)
	v1.POST("/checkins", d.Checkins.Append, device, limit)
	v1.POST("/reviews", d.Ledger.SubmitReview, device, limit)

	// Operators; devices may read history for their own lookups.
	v1.GET("/checkins", d.Checkins.Query, middleware.RequireRole(utils.RoleOperator, utils.RoleDevice), cache)
	v1.GET("/checkins/export", d.Checkins.Export, middleware.RequireRole(utils.RoleOperator, utils.RoleDevice))
	v1.GET("/reviews", d.Ledger.ListReviews, operator, cache)
}
