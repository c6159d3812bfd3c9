// Package push implements the connection-oriented presence backend.
//
// Every room is served by one goroutine that owns the room's connections and
// identity bindings. Identify and close events for a room are applied one at
// a time and each produces a status broadcast followed by a roster
// broadcast, so all connections of a room observe the same event order.
// Rooms are independent and run in parallel.
package push

import (
	"context"
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/metrics"
	"github.com/vovakirdan/viewing-server/internal/presence"
)

// Registry tracks live connections per room.
type Registry struct {
	rooms   *xsync.MapOf[presence.Room, *room]
	log     *zerolog.Logger
	metrics metrics.Collector
}

var _ presence.Store = (*Registry)(nil)

// NewRegistry creates an empty registry. A nil logger or collector disables
// logging or metrics respectively.
func NewRegistry(logger *zerolog.Logger, m metrics.Collector) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Registry{
		rooms:   xsync.NewMapOf[presence.Room, *room](),
		log:     logger,
		metrics: m,
	}
}

// Open attaches an unidentified connection to room. Nothing is broadcast.
// Every opened connection must eventually be passed to Close.
func (g *Registry) Open(key presence.Room, conn *Conn) error {
	if key == "" {
		return presence.ErrInvalidRoom
	}

	r, _ := g.rooms.Compute(key, func(r *room, loaded bool) (*room, bool) {
		if !loaded {
			r = newRoom(key, g.log, g.metrics)
			go r.run()
		}
		r.refs++
		return r, false
	})

	r.cmds <- command{kind: commandOpen, conn: conn}
	g.metrics.ConnectionOpened()
	return nil
}

// Identify binds connID to viewer and returns the roster that was broadcast.
func (g *Registry) Identify(ctx context.Context, key presence.Room, connID string, viewer presence.Viewer) (presence.Roster, error) {
	if !viewer.Valid() {
		return nil, presence.ErrInvalidViewer
	}
	rep, err := g.send(ctx, key, command{kind: commandIdentify, connID: connID, viewer: viewer})
	if err != nil {
		return nil, err
	}
	return rep.roster, rep.err
}

// Close detaches connID from room and closes its Events channel. Closing an
// unknown or already closed connection is a no-op.
func (g *Registry) Close(key presence.Room, connID string) {
	rep, err := g.send(context.Background(), key, command{kind: commandClose, connID: connID})
	if err != nil || !rep.known {
		return
	}
	g.metrics.ConnectionClosed()

	g.rooms.Compute(key, func(r *room, loaded bool) (*room, bool) {
		if !loaded {
			return r, true
		}
		r.refs--
		if r.refs > 0 {
			return r, false
		}
		close(r.done)
		return r, true
	})
}

// Roster returns the identified viewers of room. Unknown rooms are empty.
func (g *Registry) Roster(ctx context.Context, key presence.Room) (presence.Roster, error) {
	rep, err := g.send(ctx, key, command{kind: commandSnapshot})
	if err != nil {
		if errors.Is(err, presence.ErrUnknownSession) {
			return presence.Roster{}, nil
		}
		return nil, err
	}
	g.metrics.RosterSize("push", len(rep.roster))
	return rep.roster, nil
}

// Join identifies an already opened session.
func (g *Registry) Join(ctx context.Context, key presence.Room, sess presence.Session) (presence.Roster, error) {
	return g.Identify(ctx, key, sess.ID, sess.Viewer)
}

// Leave closes the session.
func (g *Registry) Leave(_ context.Context, key presence.Room, sessionID string) error {
	g.Close(key, sessionID)
	return nil
}

// Rooms returns the keys of rooms with at least one attached connection.
func (g *Registry) Rooms() []presence.Room {
	out := make([]presence.Room, 0, g.rooms.Size())
	g.rooms.Range(func(key presence.Room, _ *room) bool {
		out = append(out, key)
		return true
	})
	return out
}

// send delivers cmd to the room actor and waits for its reply. A room that
// does not exist or has stopped yields ErrUnknownSession.
func (g *Registry) send(ctx context.Context, key presence.Room, cmd command) (reply, error) {
	r, ok := g.rooms.Load(key)
	if !ok {
		return reply{}, presence.ErrUnknownSession
	}

	cmd.reply = make(chan reply, 1)
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return reply{}, presence.ErrUnknownSession
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-r.done:
		select {
		case rep := <-cmd.reply:
			return rep, nil
		default:
			return reply{}, presence.ErrUnknownSession
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}
