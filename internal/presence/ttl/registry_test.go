package ttl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/viewing-server/internal/kv"
	"github.com/vovakirdan/viewing-server/internal/kv/memory"
	kvredis "github.com/vovakirdan/viewing-server/internal/kv/redis"
	"github.com/vovakirdan/viewing-server/internal/presence"
)

var (
	alice = presence.Viewer{ID: "1", Login: "alice"}
	bob   = presence.Viewer{ID: "2", Login: "bob"}
	carol = presence.Viewer{ID: "3", Login: "carol"}
)

const testRoom presence.Room = "org1:acme/widget-42"

func newMemoryRegistry(t *testing.T) (*Registry, *clock.Mock, *memory.Store) {
	t.Helper()
	clk := clock.NewMock()
	store := memory.NewWithClock(clk, 0)
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(store, Options{TTL: 30 * time.Second}, nil, nil), clk, store
}

func session(v presence.Viewer) presence.Session {
	return presence.Session{ID: v.ID, Viewer: v}
}

func TestHeartbeatReturnsRoster(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	roster, err := g.Heartbeat(ctx, testRoom, session(bob))
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, roster.Logins())

	roster, err = g.Heartbeat(ctx, testRoom, session(alice))
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, roster.Logins())

	roster, err = g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, roster.Logins())
}

func TestHeartbeatKeepsViewerPresent(t *testing.T) {
	g, clk, _ := newMemoryRegistry(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := g.Heartbeat(ctx, testRoom, session(alice))
		require.NoError(t, err)
		clk.Add(15 * time.Second)

		roster, err := g.Roster(ctx, testRoom)
		require.NoError(t, err)
		require.True(t, roster.Contains(alice.ID), "heartbeat %d", i)
	}
}

func TestViewerExpiresExactlyAtTTL(t *testing.T) {
	g, clk, _ := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, testRoom, session(alice))
	require.NoError(t, err)

	clk.Add(29 * time.Second)
	roster, err := g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.True(t, roster.Contains(alice.ID))

	clk.Add(time.Second)
	roster, err = g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.Empty(t, roster)
}

func TestHeartbeatPrunesLapsedSessions(t *testing.T) {
	g, clk, store := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, testRoom, session(alice))
	require.NoError(t, err)
	clk.Add(20 * time.Second)
	_, err = g.Heartbeat(ctx, testRoom, session(bob))
	require.NoError(t, err)
	clk.Add(10 * time.Second)

	roster, err := g.Heartbeat(ctx, testRoom, session(bob))
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, roster.Logins())

	members, err := store.IndexMembers(ctx, g.indexKey(testRoom))
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, members)
}

func TestSessionDefaultsToViewerID(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, testRoom, presence.Session{Viewer: alice})
	require.NoError(t, err)
	require.NoError(t, g.Leave(ctx, testRoom, alice.ID))

	roster, err := g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.Empty(t, roster)
}

func TestSameViewerInTwoTabs(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, testRoom, presence.Session{ID: "tab-a", Viewer: alice})
	require.NoError(t, err)
	roster, err := g.Heartbeat(ctx, testRoom, presence.Session{ID: "tab-b", Viewer: alice})
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, roster.Logins())

	require.NoError(t, g.Leave(ctx, testRoom, "tab-a"))
	roster, err = g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, roster.Logins())
}

func TestRoomsAreIsolated(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, "org1:acme/widget-1", session(alice))
	require.NoError(t, err)
	_, err = g.Heartbeat(ctx, "org2:acme/widget-1", session(bob))
	require.NoError(t, err)

	roster, err := g.Roster(ctx, "org1:acme/widget-1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, roster.Logins())
}

func TestKeyComponentsAreEscaped(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, "a:b", presence.Session{ID: "c", Viewer: alice})
	require.NoError(t, err)
	_, err = g.Heartbeat(ctx, "a", presence.Session{ID: "b:c", Viewer: bob})
	require.NoError(t, err)

	roster, err := g.Roster(ctx, "a:b")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, roster.Logins())
	roster, err = g.Roster(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, roster.Logins())
}

func TestValidation(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, "", session(alice))
	require.ErrorIs(t, err, presence.ErrInvalidRoom)
	_, err = g.Heartbeat(ctx, testRoom, presence.Session{ID: "x", Viewer: presence.Viewer{Login: "alice"}})
	require.ErrorIs(t, err, presence.ErrInvalidViewer)
	_, err = g.Roster(ctx, "")
	require.ErrorIs(t, err, presence.ErrInvalidRoom)
}

func TestConcurrentHeartbeatsLoseNobody(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := presence.Viewer{ID: fmt.Sprintf("u%02d", i), Login: fmt.Sprintf("user%02d", i)}
			_, err := g.Heartbeat(ctx, testRoom, session(v))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	roster, err := g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.Len(t, roster, n)
}

func TestJoinLeaveSequencesMatchModel(t *testing.T) {
	g, _, _ := newMemoryRegistry(t)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(7))
	viewers := []presence.Viewer{alice, bob, carol}

	present := map[string]bool{}
	for step := 0; step < 200; step++ {
		v := viewers[rnd.Intn(len(viewers))]
		if rnd.Intn(2) == 0 {
			_, err := g.Join(ctx, testRoom, session(v))
			require.NoError(t, err)
			present[v.ID] = true
		} else {
			require.NoError(t, g.Leave(ctx, testRoom, v.ID))
			delete(present, v.ID)
		}

		roster, err := g.Roster(ctx, testRoom)
		require.NoError(t, err)
		require.Len(t, roster, len(present), "step %d", step)
		for id := range present {
			require.True(t, roster.Contains(id), "step %d: %s missing", step, id)
		}
	}
}

// failingStore rejects every operation.
type failingStore struct {
	kv.Store
	err error
}

func (f failingStore) SetEx(context.Context, string, []byte, time.Duration) error { return f.err }
func (f failingStore) IndexMembers(context.Context, string) ([]string, error) { return nil, f.err }
func (f failingStore) Delete(context.Context, ...string) error { return f.err }

func TestStoreFailureIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	g := NewRegistry(failingStore{err: cause}, Options{}, nil, nil)
	ctx := context.Background()

	_, err := g.Heartbeat(ctx, testRoom, session(alice))
	require.ErrorIs(t, err, cause)
	require.Equal(t, presence.ErrCodeStoreUnavailable, presence.Code(err))

	_, err = g.Roster(ctx, testRoom)
	require.Equal(t, presence.ErrCodeStoreUnavailable, presence.Code(err))

	err = g.Leave(ctx, testRoom, alice.ID)
	require.Equal(t, presence.ErrCodeStoreUnavailable, presence.Code(err))
}

func TestRedisBackedRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := kvredis.New(kvredis.Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	g := NewRegistry(store, Options{TTL: 30 * time.Second, KeyPrefix: "test"}, nil, nil)
	ctx := context.Background()

	_, err = g.Heartbeat(ctx, testRoom, session(alice))
	require.NoError(t, err)
	roster, err := g.Heartbeat(ctx, testRoom, session(bob))
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, roster.Logins())

	mr.FastForward(15 * time.Second)
	_, err = g.Heartbeat(ctx, testRoom, session(bob))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, mr.TTL(g.recordKey(testRoom, "2")))

	mr.FastForward(15 * time.Second)
	roster, err = g.Roster(ctx, testRoom)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, roster.Logins())
}
