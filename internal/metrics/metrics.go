// Package metrics records presence activity.
package metrics

// Collector receives presence events from both backends.
type Collector interface {
	// ConnectionOpened and ConnectionClosed track attached push connections.
	ConnectionOpened()
	ConnectionClosed()
	// Identified counts identity bindings, including re-identifies.
	Identified()
	// Broadcast records one fan-out of kind to recipients connections.
	Broadcast(kind string, recipients int)
	// EventDropped counts events lost to a full connection outbox.
	EventDropped()
	// Heartbeat records a poll heartbeat outcome (ok, error).
	Heartbeat(result string)
	// RosterSize observes the size of a roster returned by backend.
	RosterSize(backend string, size int)
}

// Nop discards all metrics.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) ConnectionOpened() {}
func (Nop) ConnectionClosed() {}
func (Nop) Identified() {}
func (Nop) Broadcast(string, int) {}
func (Nop) EventDropped() {}
func (Nop) Heartbeat(string) {}
func (Nop) RosterSize(string, int) {}
