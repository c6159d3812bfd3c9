package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/viewing-server/internal/presence"
	"github.com/vovakirdan/viewing-server/internal/presence/push"
	"github.com/vovakirdan/viewing-server/internal/proto"
)

// errIgnored marks frames whose type the server does not handle.
var errIgnored = errors.New("ignored frame type")

// inboundToViewer decodes an identify frame. Frames of any other type yield
// errIgnored.
func inboundToViewer(raw []byte) (presence.Viewer, error) {
	var inbound proto.Inbound
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return presence.Viewer{}, fmt.Errorf("decode frame: %w", err)
	}

	switch inbound.Type {
	case proto.InboundTypeGithubUser:
		var msg proto.GithubUser
		if err := json.Unmarshal(raw, &msg); err != nil {
			return presence.Viewer{}, fmt.Errorf("decode %s: %w", inbound.Type, err)
		}
		viewer := presence.Viewer{
			ID:    strings.TrimSpace(string(msg.ID)),
			Login: strings.TrimSpace(msg.Login),
		}
		if !viewer.Valid() {
			return presence.Viewer{}, presence.ErrInvalidViewer
		}
		return viewer, nil
	default:
		return presence.Viewer{}, errIgnored
	}
}

func outboundFromEvent(ev *push.Event) any {
	switch ev.Kind {
	case push.EventStatus:
		action := proto.ActionConnected
		if ev.Action == push.ActionDisconnected {
			action = proto.ActionDisconnected
		}
		return proto.UserStatus{
			Type:   proto.OutboundTypeUserStatus,
			Action: action,
			UserID: ev.Viewer.ID,
			Login:  ev.Viewer.Login,
		}
	default:
		return proto.ConnectedUsers{
			Type:  proto.OutboundTypeConnectedUsers,
			Users: usersFromRoster(ev.Roster),
		}
	}
}

func usersFromRoster(roster presence.Roster) []proto.User {
	users := make([]proto.User, 0, len(roster))
	for _, v := range roster {
		users = append(users, proto.User{ID: v.ID, Login: v.Login})
	}
	return users
}
