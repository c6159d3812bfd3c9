package push

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/metrics"
	"github.com/vovakirdan/viewing-server/internal/presence"
)

type commandKind int

const (
	commandOpen commandKind = iota
	commandIdentify
	commandClose
	commandSnapshot
)

type command struct {
	kind   commandKind
	conn   *Conn
	connID string
	viewer presence.Viewer
	reply  chan reply
}

type reply struct {
	roster presence.Roster
	known  bool
	err    error
}

// member is a connection attached to a room. It starts unidentified and is
// bound to a viewer by the first identify command.
type member struct {
	conn       *Conn
	viewer     presence.Viewer
	identified bool
}

// room serializes every mutation and broadcast for one room key on a single
// goroutine. refs is owned by the registry's room table.
type room struct {
	key     presence.Room
	cmds    chan command
	done    chan struct{}
	refs    int
	members map[string]*member
	log     zerolog.Logger
	metrics metrics.Collector
}

func newRoom(key presence.Room, logger *zerolog.Logger, m metrics.Collector) *room {
	return &room{
		key:     key,
		cmds:    make(chan command, 16),
		done:    make(chan struct{}),
		members: make(map[string]*member),
		log:     logger.With().Str("room", string(key)).Logger(),
		metrics: m,
	}
}

func (r *room) run() {
	r.log.Debug().Msg("room started")
	for {
		select {
		case cmd := <-r.cmds:
			r.handle(cmd)
		case <-r.done:
			r.log.Debug().Msg("room stopped")
			return
		}
	}
}

func (r *room) handle(cmd command) {
	var rep reply

	switch cmd.kind {
	case commandOpen:
		r.members[cmd.conn.ID] = &member{conn: cmd.conn}
		rep.known = true
		r.log.Debug().Str("conn_id", cmd.conn.ID).Msg("connection attached")
	case commandIdentify:
		rep = r.identify(cmd.connID, cmd.viewer)
	case commandClose:
		rep = r.detach(cmd.connID)
	case commandSnapshot:
		rep.roster = r.roster()
	}

	if cmd.reply != nil {
		cmd.reply <- rep
	}
}

// identify binds connID to viewer. A second identify overwrites the
// binding and repeats both broadcasts.
func (r *room) identify(connID string, viewer presence.Viewer) reply {
	m, ok := r.members[connID]
	if !ok {
		return reply{err: presence.ErrUnknownSession}
	}

	if m.identified && m.viewer != viewer {
		r.log.Info().
			Str("conn_id", connID).
			Str("previous_viewer", m.viewer.ID).
			Str("viewer", viewer.ID).
			Msg("connection re-identified, overwriting binding")
	}
	m.viewer = viewer
	m.identified = true
	r.metrics.Identified()

	r.log.Info().
		Str("conn_id", connID).
		Str("viewer", viewer.ID).
		Str("login", viewer.Login).
		Msg("viewer identified (asserted by client)")

	r.broadcast(&Event{Kind: EventStatus, Room: r.key, Action: ActionConnected, Viewer: viewer})
	roster := r.roster()
	r.broadcast(&Event{Kind: EventRoster, Room: r.key, Roster: roster})

	return reply{roster: roster, known: true}
}

func (r *room) detach(connID string) reply {
	m, ok := r.members[connID]
	if !ok {
		return reply{}
	}
	delete(r.members, connID)
	close(m.conn.Events)

	r.log.Debug().Str("conn_id", connID).Bool("identified", m.identified).Msg("connection detached")

	if !m.identified {
		return reply{known: true}
	}

	r.broadcast(&Event{Kind: EventStatus, Room: r.key, Action: ActionDisconnected, Viewer: m.viewer})
	roster := r.roster()
	r.broadcast(&Event{Kind: EventRoster, Room: r.key, Roster: roster})

	return reply{roster: roster, known: true}
}

func (r *room) roster() presence.Roster {
	viewers := make([]presence.Viewer, 0, len(r.members))
	for _, m := range r.members {
		if m.identified {
			viewers = append(viewers, m.viewer)
		}
	}
	return presence.NewRoster(viewers)
}

// broadcast attempts delivery to every attached connection. A full outbox
// drops the event for that connection only.
func (r *room) broadcast(ev *Event) {
	sent := 0
	for id, m := range r.members {
		select {
		case m.conn.Events <- ev:
			sent++
		default:
			r.metrics.EventDropped()
			r.log.Warn().Str("conn_id", id).Stringer("kind", ev.Kind).Msg("outbox full, event dropped")
		}
	}
	r.metrics.Broadcast(ev.Kind.String(), sent)
}
