// Package ttl implements the heartbeat/TTL presence backend.
//
// Each heartbeat writes one record per session with a fixed TTL, and the
// roster is recomputed on every read from the records that are still alive.
// Writes from different sessions touch different keys, so concurrent
// heartbeats never overwrite each other. A client that stops heartbeating
// disappears once its record lapses; no explicit leave is needed.
package ttl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/kv"
	"github.com/vovakirdan/viewing-server/internal/metrics"
	"github.com/vovakirdan/viewing-server/internal/presence"
)

const (
	// DefaultTTL is how long a record stays active after a heartbeat.
	DefaultTTL = 30 * time.Second
	// DefaultKeyPrefix namespaces all keys written by the registry.
	DefaultKeyPrefix = "viewing"
)

// Options configures a Registry.
type Options struct {
	// TTL is the lifetime of a record. Clients should heartbeat at most
	// every TTL/2.
	TTL time.Duration
	// KeyPrefix is prepended to every key.
	KeyPrefix string
	// RequestTimeout bounds each operation on top of the caller's context.
	// Zero disables the extra bound.
	RequestTimeout time.Duration
}

// record is the stored value of one session.
type record struct {
	Room    presence.Room   `json:"room"`
	Session string          `json:"session"`
	Viewer  presence.Viewer `json:"viewer"`
	SeenAt  int64           `json:"seen_at"`
}

// Registry is the poll backend.
type Registry struct {
	store   kv.Store
	opts    Options
	log     *zerolog.Logger
	metrics metrics.Collector
	now     func() time.Time
}

var _ presence.Store = (*Registry)(nil)

// NewRegistry creates a registry over store.
func NewRegistry(store kv.Store, opts Options, logger *zerolog.Logger, m metrics.Collector) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Registry{
		store:   store,
		opts:    opts,
		log:     logger,
		metrics: m,
		now:     time.Now,
	}
}

// TTL returns the configured record lifetime.
func (g *Registry) TTL() time.Duration {
	return g.opts.TTL
}

// Heartbeat refreshes the session's record and returns the live roster.
// An empty session ID defaults to the viewer ID.
func (g *Registry) Heartbeat(ctx context.Context, room presence.Room, sess presence.Session) (presence.Roster, error) {
	if room == "" {
		return nil, presence.ErrInvalidRoom
	}
	if !sess.Viewer.Valid() {
		return nil, presence.ErrInvalidViewer
	}
	if sess.ID == "" {
		sess.ID = sess.Viewer.ID
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	roster, err := g.heartbeat(ctx, room, sess)
	if err != nil {
		g.metrics.Heartbeat("error")
		g.log.Warn().Err(err).Str("room", string(room)).Str("session", sess.ID).Msg("heartbeat failed")
		return nil, err
	}
	g.metrics.Heartbeat("ok")
	g.metrics.RosterSize("poll", len(roster))
	return roster, nil
}

func (g *Registry) heartbeat(ctx context.Context, room presence.Room, sess presence.Session) (presence.Roster, error) {
	data, err := json.Marshal(record{
		Room:    room,
		Session: sess.ID,
		Viewer:  sess.Viewer,
		SeenAt:  g.now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	member := escape(sess.ID)
	if err := g.store.SetEx(ctx, g.recordKey(room, member), data, g.opts.TTL); err != nil {
		return nil, presence.Unavailable(fmt.Errorf("write record: %w", err))
	}
	// The index outlives its records so a room keeps being found between
	// heartbeats; it lapses on its own once the room goes quiet.
	if err := g.store.IndexAdd(ctx, g.indexKey(room), member, 2*g.opts.TTL); err != nil {
		return nil, presence.Unavailable(fmt.Errorf("index record: %w", err))
	}

	roster, stale, err := g.scan(ctx, room)
	if err != nil {
		return nil, err
	}

	if len(stale) > 0 {
		n, err := g.store.IndexPrune(ctx, g.indexKey(room), stale)
		if err != nil {
			g.log.Debug().Err(err).Str("room", string(room)).Msg("prune index failed")
		} else if n > 0 {
			g.log.Debug().Str("room", string(room)).Int("pruned", n).Msg("pruned lapsed sessions")
		}
	}
	return roster, nil
}

// Roster returns the live roster of room without writing anything.
func (g *Registry) Roster(ctx context.Context, room presence.Room) (presence.Roster, error) {
	if room == "" {
		return nil, presence.ErrInvalidRoom
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	roster, _, err := g.scan(ctx, room)
	if err != nil {
		g.log.Warn().Err(err).Str("room", string(room)).Msg("roster read failed")
		return nil, err
	}
	g.metrics.RosterSize("poll", len(roster))
	return roster, nil
}

// GetRoster is Roster.
func (g *Registry) GetRoster(ctx context.Context, room presence.Room) (presence.Roster, error) {
	return g.Roster(ctx, room)
}

// Join is Heartbeat.
func (g *Registry) Join(ctx context.Context, room presence.Room, sess presence.Session) (presence.Roster, error) {
	return g.Heartbeat(ctx, room, sess)
}

// Leave deletes the session's record so it disappears before its TTL.
func (g *Registry) Leave(ctx context.Context, room presence.Room, sessionID string) error {
	if room == "" {
		return presence.ErrInvalidRoom
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	member := escape(sessionID)
	if err := g.store.Delete(ctx, g.recordKey(room, member)); err != nil {
		return presence.Unavailable(fmt.Errorf("delete record: %w", err))
	}
	if err := g.store.IndexRemove(ctx, g.indexKey(room), member); err != nil {
		return presence.Unavailable(fmt.Errorf("unindex record: %w", err))
	}
	return nil
}

// scan enumerates the room index and keeps the records that still exist at
// read time. Index members whose record is gone are returned as stale,
// mapped to their record keys.
func (g *Registry) scan(ctx context.Context, room presence.Room) (presence.Roster, map[string]string, error) {
	members, err := g.store.IndexMembers(ctx, g.indexKey(room))
	if err != nil {
		return nil, nil, presence.Unavailable(fmt.Errorf("list sessions: %w", err))
	}
	if len(members) == 0 {
		return presence.Roster{}, nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = g.recordKey(room, m)
	}

	values, err := g.store.GetMany(ctx, keys...)
	if err != nil {
		return nil, nil, presence.Unavailable(fmt.Errorf("read sessions: %w", err))
	}

	viewers := make([]presence.Viewer, 0, len(values))
	var stale map[string]string
	for i, raw := range values {
		if raw == nil {
			if stale == nil {
				stale = make(map[string]string)
			}
			stale[members[i]] = keys[i]
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil || !rec.Viewer.Valid() {
			g.log.Warn().Err(err).Str("key", keys[i]).Msg("skipping undecodable record")
			continue
		}
		viewers = append(viewers, rec.Viewer)
	}
	return presence.NewRoster(viewers), stale, nil
}

func (g *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opts.RequestTimeout)
}

func (g *Registry) indexKey(room presence.Room) string {
	return g.opts.KeyPrefix + ":room:" + escape(string(room))
}

func (g *Registry) recordKey(room presence.Room, member string) string {
	return g.opts.KeyPrefix + ":rec:" + escape(string(room)) + ":" + member
}

// escape keeps ':' out of key components so that room and session
// boundaries stay unambiguous.
func escape(s string) string {
	return url.QueryEscape(s)
}
