// Package presence defines the viewer, roster and store types shared by the
// push and poll backends.
package presence

import (
	"context"
	"sort"
)

// Room is an opaque presence namespace, usually produced by package roomkey.
type Room string

// Viewer is a client-asserted identity. ID is the dedup key; Login is
// display only.
type Viewer struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// Valid reports whether the viewer carries both an ID and a login.
func (v Viewer) Valid() bool {
	return v.ID != "" && v.Login != ""
}

// Session is one announcing party: a connection for the push backend or a
// heartbeating client for the poll backend.
type Session struct {
	ID     string
	Viewer Viewer
}

// Roster is the set of viewers currently active in a room.
type Roster []Viewer

// Logins returns the display names in roster order.
func (r Roster) Logins() []string {
	out := make([]string, 0, len(r))
	for _, v := range r {
		out = append(out, v.Login)
	}
	return out
}

// Contains reports whether a viewer with the given ID is present.
func (r Roster) Contains(id string) bool {
	for _, v := range r {
		if v.ID == id {
			return true
		}
	}
	return false
}

// NewRoster dedupes viewers by ID and sorts them by login, then ID.
// When the same ID appears more than once the last login wins.
func NewRoster(viewers []Viewer) Roster {
	byID := make(map[string]Viewer, len(viewers))
	for _, v := range viewers {
		byID[v.ID] = v
	}
	out := make(Roster, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Login == out[j].Login {
			return out[i].ID < out[j].ID
		}
		return out[i].Login < out[j].Login
	})
	return out
}

// Store is implemented by both presence backends.
type Store interface {
	// Join announces the session in room and returns the resulting roster.
	Join(ctx context.Context, room Room, sess Session) (Roster, error)
	// Leave withdraws the session. Leaving an unknown session is not an error.
	Leave(ctx context.Context, room Room, sessionID string) error
	// Roster returns the current roster without side effects.
	Roster(ctx context.Context, room Room) (Roster, error)
}
