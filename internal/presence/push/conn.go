package push

// DefaultOutbox is the event buffer size of a connection.
const DefaultOutbox = 32

// Conn is a transport connection as seen by the registry.
//
// Events is written only by the room the connection is attached to and is
// closed once the connection has been removed from it.
type Conn struct {
	ID     string
	Events chan *Event
}

// NewConn constructs a connection with a bounded outbox.
func NewConn(id string, outbox int) *Conn {
	if outbox <= 0 {
		outbox = DefaultOutbox
	}
	return &Conn{
		ID:     id,
		Events: make(chan *Event, outbox),
	}
}
