package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/config"
	"github.com/vovakirdan/viewing-server/internal/presence"
	"github.com/vovakirdan/viewing-server/internal/presence/push"
	"github.com/vovakirdan/viewing-server/internal/roomkey"
)

const (
	writeTimeout = 5 * time.Second

	// readLimitFactor sets the transport read limit as a multiple of
	// MaxMessageBytes. Frames between the two are drained and dropped;
	// frames above the transport limit close the connection.
	readLimitFactor = 64
)

var errFrameTooLarge = errors.New("frame exceeds max message size")

// WSHandler upgrades HTTP connections and bridges them to the push registry.
type WSHandler struct {
	registry *push.Registry
	cfg      config.PushConfig
	accept   *websocket.AcceptOptions
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. allowOrigins restricts the
// browser origins allowed to connect; "*" allows any.
func NewWSHandler(registry *push.Registry, cfg config.PushConfig, allowOrigins []string, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		cfg:      cfg,
		accept:   acceptOptions(allowOrigins),
		log:      logger,
	}
}

func acceptOptions(allowOrigins []string) *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range allowOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		// Origin patterns match the host part only.
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		opts.OriginPatterns = append(opts.OriginPatterns, origin)
	}
	return opts
}

// roomFromRequest resolves the room from ?room=<key> or ?path=<document path>.
func roomFromRequest(r *stdhttp.Request) presence.Room {
	q := r.URL.Query()
	if room := strings.TrimSpace(q.Get("room")); room != "" {
		return presence.Room(room)
	}
	if p := q.Get("path"); p != "" {
		return presence.Room(roomkey.FromPath(p))
	}
	return ""
}

// Handle serves GET /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	room := roomFromRequest(r)
	if room == "" {
		stdhttp.Error(w, "room or path query parameter is required", stdhttp.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.MaxMessageBytes * readLimitFactor)

	client := push.NewConn(uuid.NewString(), h.cfg.Outbox)
	logger := h.log.With().Str("room", string(room)).Str("conn_id", client.ID).Logger()

	if err := h.registry.Open(room, client); err != nil {
		logger.Error().Err(err).Msg("attach connection")
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	defer h.registry.Close(room, client.ID)
	logger.Debug().Msg("ws connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := newRateLimiter(h.cfg.RateLimit, time.Minute)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, room, client, limiter, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	logger.Debug().Int("status", int(status)).Msg("ws connection closed")
	conn.Close(status, reason)
}

// readLoop applies identify frames to the registry. Malformed, oversized and
// rate-limited frames are logged and dropped, unknown types are ignored.
// Only transport errors end the loop.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, room presence.Room, client *push.Conn, limiter *rateLimiter, logger *zerolog.Logger) error {
	for {
		typ, data, err := readFrame(ctx, conn, h.cfg.MaxMessageBytes)
		if errors.Is(err, errFrameTooLarge) {
			logger.Warn().Int64("limit", h.cfg.MaxMessageBytes).Msg("dropping oversized frame")
			continue
		}
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			logger.Debug().Msg("dropping binary frame")
			continue
		}
		if !limiter.allow() {
			logger.Warn().Msg("rate limit exceeded, dropping frame")
			continue
		}

		viewer, err := inboundToViewer(data)
		switch {
		case errors.Is(err, errIgnored):
			continue
		case err != nil:
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if _, err := h.registry.Identify(ctx, room, client.ID, viewer); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Warn().Err(err).Str("viewer", viewer.ID).Msg("identify failed")
		}
	}
}

// readFrame reads one message of at most limit bytes. Larger messages are
// consumed to the end and reported as errFrameTooLarge.
func readFrame(ctx context.Context, conn *websocket.Conn, limit int64) (websocket.MessageType, []byte, error) {
	typ, r, err := conn.Reader(ctx)
	if err != nil {
		return 0, nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return 0, nil, err
	}
	if int64(len(data)) > limit {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return 0, nil, err
		}
		return typ, nil, errFrameTooLarge
	}
	return typ, data, nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *push.Conn, logger *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, outboundFromEvent(event))
			cancel()
			if err != nil {
				logger.Error().Err(err).Stringer("kind", event.Kind).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop keeps idle connections alive and detects dead peers.
func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	if h.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.cfg.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
