package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/config"
	"github.com/vovakirdan/viewing-server/internal/kv"
	"github.com/vovakirdan/viewing-server/internal/kv/memory"
	"github.com/vovakirdan/viewing-server/internal/presence/push"
	"github.com/vovakirdan/viewing-server/internal/presence/ttl"
	"github.com/vovakirdan/viewing-server/internal/proto"
)

type testServer struct {
	*httptest.Server
	push  *push.Registry
	poll  *ttl.Registry
	clock *clock.Mock
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.Push.PingInterval = 0
	return cfg
}

// startTestServer serves both backends. A nil store selects an in-memory
// store driven by a mock clock.
func startTestServer(t *testing.T, store kv.Store) *testServer {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	ts := &testServer{}

	if store == nil {
		ts.clock = clock.NewMock()
		mem := memory.NewWithClock(ts.clock, 0)
		t.Cleanup(func() { _ = mem.Close() })
		store = mem
	}

	cfg := testConfig()
	ts.push = push.NewRegistry(&disabledLogger, nil)
	ts.poll = ttl.NewRegistry(store, ttl.Options{TTL: cfg.Presence.TTL}, &disabledLogger, nil)

	server := NewServer(Deps{Push: ts.push, Poll: ts.poll, Store: store}, cfg, &disabledLogger)
	ts.Server = httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func (ts *testServer) dial(t *testing.T, ctx context.Context, query string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?" + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendIdentify(t *testing.T, ctx context.Context, conn *websocket.Conn, id, login string) {
	t.Helper()

	msg := map[string]string{"type": proto.InboundTypeGithubUser, "id": id, "login": login}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write identify: %v", err)
	}
}

// frame is the union of every server frame.
type frame struct {
	Type   string       `json:"type"`
	Action string       `json:"action"`
	UserID string       `json:"userId"`
	Login  string       `json:"login"`
	Users  []proto.User `json:"users"`
}

func mustFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) frame {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("expected %s frame: %v", typ, err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	if f.Type != typ {
		t.Fatalf("expected frame type %s, got %s (%s)", typ, f.Type, data)
	}
	return f
}

func mustStatus(t *testing.T, ctx context.Context, conn *websocket.Conn, action, login string) {
	t.Helper()

	f := mustFrame(t, ctx, conn, proto.OutboundTypeUserStatus)
	if f.Action != action || f.Login != login {
		t.Fatalf("expected status %s %s, got %+v", action, login, f)
	}
}

func mustRoster(t *testing.T, ctx context.Context, conn *websocket.Conn, logins ...string) {
	t.Helper()

	f := mustFrame(t, ctx, conn, proto.OutboundTypeConnectedUsers)
	got := make([]string, 0, len(f.Users))
	for _, u := range f.Users {
		got = append(got, u.Login)
	}
	if strings.Join(got, ",") != strings.Join(logins, ",") {
		t.Fatalf("expected roster %v, got %v", logins, got)
	}
}
