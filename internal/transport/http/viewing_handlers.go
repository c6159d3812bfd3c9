package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/viewing-server/internal/presence"
	"github.com/vovakirdan/viewing-server/internal/presence/ttl"
	"github.com/vovakirdan/viewing-server/internal/proto"
	"github.com/vovakirdan/viewing-server/internal/roomkey"
)

const missingFieldsMessage = "Missing required fields"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ViewingHandlers serves the heartbeat API of the poll backend.
type ViewingHandlers struct {
	registry *ttl.Registry
	log      *zerolog.Logger
}

// NewViewingHandlers creates a new viewing handlers instance.
func NewViewingHandlers(registry *ttl.Registry, logger *zerolog.Logger) *ViewingHandlers {
	return &ViewingHandlers{
		registry: registry,
		log:      logger,
	}
}

// viewingRoom keys poll rooms by organisation and issue.
func viewingRoom(orgID, issueURL string) presence.Room {
	return presence.Room(roomkey.Scoped(orgID, roomkey.FromURL(issueURL)))
}

// Heartbeat refreshes the caller's presence and returns the live viewers.
// POST /api/viewing
func (h *ViewingHandlers) Heartbeat(c *gin.Context) {
	req, ok := h.bindViewingRequest(c)
	if !ok {
		return
	}

	room := viewingRoom(req.OrgID, req.IssueURL)
	roster, err := h.registry.Heartbeat(c.Request.Context(), room, sessionFromRequest(req))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, proto.HeartbeatResponse{
		Success: true,
		Viewers: roster.Logins(),
	})
}

// Viewers returns the live viewers without refreshing anyone.
// GET /api/viewing?orgId=&issueUrl=
func (h *ViewingHandlers) Viewers(c *gin.Context) {
	orgID, issueURL := c.Query("orgId"), c.Query("issueUrl")
	var missing []string
	if orgID == "" {
		missing = append(missing, "orgId")
	}
	if issueURL == "" {
		missing = append(missing, "issueUrl")
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, proto.MissingFieldsResponse{Error: missingFieldsMessage, Missing: missing})
		return
	}

	roster, err := h.registry.Roster(c.Request.Context(), viewingRoom(orgID, issueURL))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, proto.ViewersResponse{Viewers: roster.Logins()})
}

// Leave withdraws the caller immediately instead of waiting for expiry.
// DELETE /api/viewing
func (h *ViewingHandlers) Leave(c *gin.Context) {
	req, ok := h.bindViewingRequest(c)
	if !ok {
		return
	}

	sess := sessionFromRequest(req)
	if err := h.registry.Leave(c.Request.Context(), viewingRoom(req.OrgID, req.IssueURL), sess.ID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, proto.LeaveResponse{Success: true})
}

func (h *ViewingHandlers) bindViewingRequest(c *gin.Context) (proto.ViewingRequest, bool) {
	var req proto.ViewingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid viewing request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return req, false
	}
	if missing := req.Missing(); len(missing) > 0 {
		c.JSON(http.StatusBadRequest, proto.MissingFieldsResponse{Error: missingFieldsMessage, Missing: missing})
		return req, false
	}
	return req, true
}

// sessionFromRequest treats the username as the viewer identity. Without an
// explicit session ID all tabs of one user share a single record.
func sessionFromRequest(req proto.ViewingRequest) presence.Session {
	id := req.SessionID
	if id == "" {
		id = req.Username
	}
	return presence.Session{
		ID:     id,
		Viewer: presence.Viewer{ID: req.Username, Login: req.Username},
	}
}

func (h *ViewingHandlers) respondError(c *gin.Context, err error) {
	switch presence.Code(err) {
	case presence.ErrCodeBadRequest:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case presence.ErrCodeStoreUnavailable:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence store unavailable"})
	default:
		if errors.Is(err, presence.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence store unavailable"})
			return
		}
		h.log.Error().Err(err).Msg("viewing request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
