package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/config"
	"github.com/vovakirdan/viewing-server/internal/kv"
	"github.com/vovakirdan/viewing-server/internal/kv/memory"
	kvredis "github.com/vovakirdan/viewing-server/internal/kv/redis"
	"github.com/vovakirdan/viewing-server/internal/kv/sqlite"
	"github.com/vovakirdan/viewing-server/internal/metrics"
	"github.com/vovakirdan/viewing-server/internal/presence/push"
	"github.com/vovakirdan/viewing-server/internal/presence/ttl"
	transporthttp "github.com/vovakirdan/viewing-server/internal/transport/http"
)

const startupPingTimeout = 3 * time.Second

// App wires together presence backends and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           kv.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		collector metrics.Collector = metrics.Nop{}
		gatherer  prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
		gatherer = reg
	}

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
	deps := transporthttp.Deps{Gatherer: gatherer}

	if cfg.ServesPush() {
		deps.Push = push.NewRegistry(logger, collector)
		logger.Info().Int("outbox", cfg.Push.Outbox).Msg("push backend enabled")
	}

	if cfg.ServesPoll() {
		store, err := openStore(cfg.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.store = store

		ctx, cancel := context.WithTimeout(context.Background(), startupPingTimeout)
		err = store.Ping(ctx)
		cancel()
		if err != nil {
			// The poll API answers 503 until the store comes back.
			logger.Warn().Err(err).Str("driver", cfg.Store.Driver).Msg("key store unreachable at startup")
		}

		deps.Store = store
		deps.Poll = ttl.NewRegistry(store, ttl.Options{
			TTL:            cfg.Presence.TTL,
			KeyPrefix:      cfg.Presence.KeyPrefix,
			RequestTimeout: cfg.Presence.RequestTimeout,
		}, logger, collector)
		logger.Info().
			Str("driver", cfg.Store.Driver).
			Dur("ttl", cfg.Presence.TTL).
			Dur("heartbeat_interval", cfg.Presence.HeartbeatInterval).
			Msg("poll backend enabled")
	}

	a.server = transporthttp.NewServer(deps, *cfg, logger)

	// Hijacked WebSocket connections are not tracked by Shutdown; cancelling
	// their base context makes them close.
	connCtx, cancelConns := context.WithCancel(context.Background())
	a.server.BaseContext = func(net.Listener) context.Context { return connCtx }
	a.server.RegisterOnShutdown(cancelConns)

	return a, nil
}

func openStore(cfg config.StoreConfig, logger *zerolog.Logger) (kv.Store, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		return kvredis.New(kvredis.Options{
			URL:             cfg.RedisURL,
			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
			DialTimeout:     cfg.DialTimeout,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
		})
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLitePath, cfg.PurgeInterval)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("db_path", cfg.SQLitePath).Msg("database initialized")
		return store, nil
	case config.DriverMemory:
		return memory.New(cfg.PurgeInterval), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the key store and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
