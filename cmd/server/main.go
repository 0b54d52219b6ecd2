package main // Entry point of the check-in server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/credential"
	"github.com/iliyamo/event-checkin/internal/database"
	"github.com/iliyamo/event-checkin/internal/handler"
	"github.com/iliyamo/event-checkin/internal/ledger"
	"github.com/iliyamo/event-checkin/internal/monitoring"
	"github.com/iliyamo/event-checkin/internal/notify"
	"github.com/iliyamo/event-checkin/internal/queue"
	"github.com/iliyamo/event-checkin/internal/repository"
	"github.com/iliyamo/event-checkin/internal/router"
	"github.com/iliyamo/event-checkin/internal/scan"
	"github.com/iliyamo/event-checkin/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real environment wins

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load() // Load environment config
	lcfg, err := config.LoadLedgerConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, database.Params{
		User: cfg.DBUser, Password: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient() // nil when Redis is not reachable
	if rdb != nil {
		defer rdb.Close()
	}

	keys, err := credential.ParseKeyring(cfg.CredentialKeys)
	if err != nil {
		return err
	}
	if cfg.ActiveKeyID != "" {
		if keys, err = keys.WithActive(cfg.ActiveKeyID); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(reg)

	backend, pingers, err := ledgerBackend(lcfg, db, rdb)
	if err != nil {
		return err
	}
	reviews := repository.NewReviewRepo(db)
	authority := ledger.New(backend, reviews,
		ledger.WithLogger(logger),
		ledger.WithRecorder(metrics),
		ledger.WithRetry(ledger.RetryPolicy{Attempts: lcfg.Attempts, AttemptTimeout: lcfg.AttemptTimeout}),
	)

	broker := config.LoadBrokerConfig()
	checkins := service.NewRecordingStore(repository.NewHistoryRepo(db), logger, sinks(broker, config.LoadPubNubConfig(), logger)...)
	bookings := repository.NewBookingRepo(db)

	processor := scan.NewProcessor(scan.ProcessorConfig{
		Validator: credential.NewValidator(keys,
			credential.WithMaxQuantity(lcfg.MaxTicketQty),
			credential.WithClockSkew(lcfg.ClockSkew),
		),
		Ledger:    authority,
		History:   checkins,
		Attendees: bookings,
		Logger:    logger,
		Metrics:   metrics,
	})

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	deps := router.Deps{
		JWTSecret:   cfg.JWTSecret,
		Health:      handler.Health(pingers...),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Credentials: &handler.CredentialHandler{Issuer: credential.NewIssuer(keys, nil, lcfg.MaxTicketQty), Bookings: bookings},
		Ledger:      &handler.LedgerHandler{Ledger: authority, Reviews: reviews},
		Checkins:    &handler.CheckinHandler{Processor: processor, History: checkins},
		RateLimit:   config.LoadRateLimitConfig(),
		Cache:       config.LoadCacheConfig(),
		Redis:       rdb,
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAPI(e, deps)

	if broker.Enabled && broker.Consume {
		go func() {
			if err := queue.StartCheckinConsumer(ctx, broker, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("checkin consumer stopped", "err", err)
			}
		}()
	}

	addr := ":" + cfg.Port
	logger.Info("listening", "addr", addr, "env", cfg.Env, "ledger", lcfg.Backend, "active_key", keys.ActiveID())
	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// ledgerBackend returns the configured redemption store and the
// dependencies the health check must reach.
func ledgerBackend(cfg config.LedgerConfig, db *sql.DB, rdb *redis.Client) (ledger.Backend, []handler.Pinger, error) {
	switch cfg.Backend {
	case config.LedgerRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("LEDGER_BACKEND=redis but Redis is not reachable")
		}
		ping := handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		return ledger.NewRedisBackend(rdb), []handler.Pinger{db, ping}, nil
	case config.LedgerMemory:
		return ledger.NewMemoryBackend(), []handler.Pinger{db}, nil
	default:
		return repository.NewRedemptionRepo(db), []handler.Pinger{db}, nil
	}
}

// sinks returns the outbound notifications for recorded check-ins.
func sinks(broker config.BrokerConfig, pn config.PubNubConfig, logger *slog.Logger) []service.Sink {
	var out []service.Sink
	if broker.Enabled {
		out = append(out, service.NewQueuePublisher(broker, logger))
	}
	if pn.Enabled() {
		out = append(out, notify.New(notify.NewPubNubPublisher(pn), pn.ChannelPrefix))
	}
	return out
}
