package http

import (
	"context"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/config"
	"github.com/vovakirdan/viewing-server/internal/presence/push"
	"github.com/vovakirdan/viewing-server/internal/presence/ttl"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components served over HTTP. A nil field disables the
// routes that need it.
type Deps struct {
	Push     *push.Registry
	Poll     *ttl.Registry
	Store    Pinger
	Gatherer prometheus.Gatherer
}

// NewServer builds an HTTP server with all routes.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps, cfg config.Config, logger *zerolog.Logger) *gin.Engine {
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Room keys contain '/', escaped as %2F inside path parameters.
	r.UseRawPath = true
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	if len(cfg.CORS.AllowOrigins) > 0 {
		r.Use(cors.New(corsConfig(cfg.CORS.AllowOrigins)))
	}

	r.GET("/health", healthHandler)
	r.GET("/ready", readyHandler(deps.Store, logger))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if deps.Push != nil {
		ws := NewWSHandler(deps.Push, cfg.Push, cfg.CORS.AllowOrigins, logger)
		r.GET("/ws", ws.Handle)

		rooms := NewRoomHandlers(deps.Push, logger)
		r.GET("/api/rooms/:room/viewers", rooms.Viewers)
	}

	if deps.Poll != nil {
		viewing := NewViewingHandlers(deps.Poll, logger)
		api := r.Group("/api")
		api.POST("/viewing", viewing.Heartbeat)
		api.GET("/viewing", viewing.Viewers)
		api.DELETE("/viewing", viewing.Leave)
	}

	logger.Info().
		Bool("push", deps.Push != nil).
		Bool("poll", deps.Poll != nil).
		Bool("metrics", deps.Gatherer != nil).
		Msg("router setup")

	return r
}

func corsConfig(allowOrigins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodDelete, stdhttp.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	for _, origin := range allowOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = allowOrigins
	return cfg
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// readyHandler pings the key store. Without one the service is always ready.
func readyHandler(store Pinger, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.String(stdhttp.StatusOK, "ready")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("readiness check failed")
			c.JSON(stdhttp.StatusServiceUnavailable, ErrorResponse{Error: "presence store unavailable"})
			return
		}
		c.String(stdhttp.StatusOK, "ready")
	}
}
