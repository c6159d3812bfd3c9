// Package kvtest holds the behavioral suite every kv.Store driver must pass.
package kvtest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/viewing-server/internal/kv"
)

// Harness is a fresh store plus a way to move its notion of time forward.
type Harness struct {
	Store   kv.Store
	Advance func(d time.Duration)
}

// Run exercises a driver. newHarness must return an empty store each call.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("SetExAndGet", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.Store.SetEx(ctx, "k", []byte("v1"), 30*time.Second))
		got, err := h.Store.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v1", string(got))

		require.NoError(t, h.Store.SetEx(ctx, "k", []byte("v2"), 30*time.Second))
		got, err = h.Store.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "v2", string(got))

		_, err = h.Store.Get(ctx, "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("ExpiresExactlyAtTTL", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.Store.SetEx(ctx, "k", []byte("v"), 30*time.Second))

		h.Advance(29 * time.Second)
		_, err := h.Store.Get(ctx, "k")
		require.NoError(t, err, "key must survive until its TTL")

		h.Advance(time.Second)
		_, err = h.Store.Get(ctx, "k")
		require.ErrorIs(t, err, kv.ErrNotFound, "key must be gone at its TTL")
	})

	t.Run("RefreshExtendsTTL", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.Store.SetEx(ctx, "k", []byte("v"), 30*time.Second))
		h.Advance(20 * time.Second)
		require.NoError(t, h.Store.SetEx(ctx, "k", []byte("v"), 30*time.Second))
		h.Advance(20 * time.Second)

		_, err := h.Store.Get(ctx, "k")
		require.NoError(t, err)
	})

	t.Run("GetManyAndDelete", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.Store.SetEx(ctx, "a", []byte("1"), time.Minute))
		require.NoError(t, h.Store.SetEx(ctx, "b", []byte("2"), time.Minute))
		require.NoError(t, h.Store.SetEx(ctx, "short", []byte("3"), 10*time.Second))
		h.Advance(10 * time.Second)

		got, err := h.Store.GetMany(ctx, "a", "missing", "b", "short")
		require.NoError(t, err)
		require.Len(t, got, 4)
		require.Equal(t, "1", string(got[0]))
		require.Nil(t, got[1])
		require.Equal(t, "2", string(got[2]))
		require.Nil(t, got[3])

		got, err = h.Store.GetMany(ctx)
		require.NoError(t, err)
		require.Empty(t, got)

		require.NoError(t, h.Store.Delete(ctx, "a", "missing"))
		_, err = h.Store.Get(ctx, "a")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Index", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		members, err := h.Store.IndexMembers(ctx, "idx")
		require.NoError(t, err)
		require.Empty(t, members)

		require.NoError(t, h.Store.IndexAdd(ctx, "idx", "m1", time.Minute))
		require.NoError(t, h.Store.IndexAdd(ctx, "idx", "m2", time.Minute))
		require.NoError(t, h.Store.IndexAdd(ctx, "idx", "m1", time.Minute))
		require.NoError(t, h.Store.IndexAdd(ctx, "other", "x", time.Minute))

		members, err = h.Store.IndexMembers(ctx, "idx")
		require.NoError(t, err)
		sort.Strings(members)
		require.Equal(t, []string{"m1", "m2"}, members)

		require.NoError(t, h.Store.IndexRemove(ctx, "idx", "m1", "nope"))
		members, err = h.Store.IndexMembers(ctx, "idx")
		require.NoError(t, err)
		require.Equal(t, []string{"m2"}, members)

		require.NoError(t, h.Store.IndexRemove(ctx, "missing-index", "m"))
	})

	t.Run("IndexExpiry", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.Store.IndexAdd(ctx, "idx", "m1", time.Minute))
		h.Advance(50 * time.Second)
		require.NoError(t, h.Store.IndexAdd(ctx, "idx", "m2", time.Minute))
		h.Advance(50 * time.Second)

		members, err := h.Store.IndexMembers(ctx, "idx")
		require.NoError(t, err)
		require.Len(t, members, 2, "adding a member refreshes the index TTL")

		h.Advance(10 * time.Second)
		members, err = h.Store.IndexMembers(ctx, "idx")
		require.NoError(t, err)
		require.Empty(t, members)
	})

	t.Run("IndexPrune", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		require.NoError(t, h.Store.SetEx(ctx, "rec:live", []byte("1"), time.Minute))
		require.NoError(t, h.Store.SetEx(ctx, "rec:old", []byte("2"), 10*time.Second))
		for _, m := range []string{"live", "old", "gone"} {
			require.NoError(t, h.Store.IndexAdd(ctx, "idx", m, time.Hour))
		}
		h.Advance(10 * time.Second)

		n, err := h.Store.IndexPrune(ctx, "idx", map[string]string{
			"live": "rec:live",
			"old":  "rec:old",
			"gone": "rec:gone",
		})
		require.NoError(t, err)
		require.Equal(t, 2, n)

		members, err := h.Store.IndexMembers(ctx, "idx")
		require.NoError(t, err)
		require.Equal(t, []string{"live"}, members)

		n, err = h.Store.IndexPrune(ctx, "idx", nil)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("Ping", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.Store.Ping(context.Background()))
	})
}
