package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/viewing-server/internal/kv/kvtest"
)

func TestStore(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kvtest.Harness {
		mr := miniredis.RunT(t)
		s, err := New(Options{URL: "redis://" + mr.Addr()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return kvtest.Harness{Store: s, Advance: mr.FastForward}
	})
}

func TestSetExAppliesTTLAtomically(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer s.Close()

	require.NoError(t, s.SetEx(context.Background(), "viewing:k", []byte("v"), 30*time.Second))
	require.Equal(t, 30*time.Second, mr.TTL("viewing:k"))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Options{URL: "http://not-redis"})
	require.Error(t, err)
}

func TestUnavailableStoreReturnsErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Options{URL: "redis://" + mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, s.Ping(ctx))
	require.Error(t, s.SetEx(ctx, "k", []byte("v"), time.Second))
	_, err = s.IndexMembers(ctx, "idx")
	require.Error(t, err)
}
