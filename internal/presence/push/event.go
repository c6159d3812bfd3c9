package push

import "github.com/vovakirdan/viewing-server/internal/presence"

// EventKind is a notification the registry emits to connections.
type EventKind int

const (
	// EventStatus reports that a single viewer connected or disconnected.
	EventStatus EventKind = iota
	// EventRoster delivers the full roster snapshot of a room.
	EventRoster
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventRoster:
		return "roster"
	default:
		return "unknown"
	}
}

// Action describes what happened to the viewer of a status event.
type Action string

const (
	ActionConnected    Action = "connected"
	ActionDisconnected Action = "disconnected"
)

// Event is shared by every recipient of a broadcast and must not be mutated.
type Event struct {
	Kind   EventKind
	Room   presence.Room
	Action Action          // EventStatus only
	Viewer presence.Viewer // EventStatus only
	Roster presence.Roster // EventRoster only
}
