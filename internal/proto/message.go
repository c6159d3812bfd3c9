package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame types exchanged on the push channel. Frames are flat JSON objects
// discriminated by "type".
const (
	InboundTypeGithubUser = "github_user"

	OutboundTypeUserStatus     = "user_status"
	OutboundTypeConnectedUsers = "connected_users"

	ActionConnected    = "connected"
	ActionDisconnected = "disconnected"
)

// Inbound carries the discriminator of a client frame. The rest of the
// frame is decoded once the type is known.
type Inbound struct {
	Type string `json:"type"`
}

// GithubUser identifies the sending connection.
type GithubUser struct {
	Type  string `json:"type"`
	ID    UserID `json:"id"`
	Login string `json:"login"`
}

// UserStatus announces a single viewer connecting or disconnecting.
type UserStatus struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	UserID string `json:"userId"`
	Login  string `json:"login"`
}

// User is one entry of a roster snapshot.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// ConnectedUsers is a full roster snapshot.
type ConnectedUsers struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

// UserID accepts both JSON strings and numbers. Browser clients send the
// numeric GitHub id either way depending on where they scraped it from.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*u = UserID(n.String())
	return nil
}
