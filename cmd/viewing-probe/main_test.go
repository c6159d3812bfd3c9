package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/viewing-server/internal/app"
	"github.com/vovakirdan/viewing-server/internal/config"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.Push.PingInterval = 0

	a, err := app.New(&cfg, &logger)
	require.NoError(t, err)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestPollProbe(t *testing.T) {
	ts := startServer(t)

	var out bytes.Buffer
	err := runPoll(context.Background(), pollOptions{
		addr:     ts.URL,
		username: "octocat",
		orgID:    "acme",
		issueURL: "https://github.com/acme/widget/issues/42",
		session:  "probe-1",
		interval: time.Millisecond,
		count:    2,
		leave:    true,
	}, ts.Client(), &out)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out.String(), "viewers: octocat"))
}

func TestPushProbe(t *testing.T) {
	ts := startServer(t)

	var out bytes.Buffer
	err := runPush(context.Background(), pushOptions{
		addr:    strings.Replace(ts.URL, "http", "ws", 1) + "/ws",
		path:    "/acme/widget/issues/42",
		id:      "583231",
		login:   "octocat",
		timeout: 500 * time.Millisecond,
	}, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "status: octocat connected (583231)")
	require.Contains(t, out.String(), "viewers: octocat")
}
