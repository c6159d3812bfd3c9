package proto

// ViewingRequest is the body of POST and DELETE /api/viewing.
type ViewingRequest struct {
	Username  string `json:"username"`
	OrgID     string `json:"orgId"`
	IssueURL  string `json:"issueUrl"`
	SessionID string `json:"sessionId,omitempty"`
}

// Missing lists the required fields that are blank, in request order.
func (r ViewingRequest) Missing() []string {
	var missing []string
	if r.Username == "" {
		missing = append(missing, "username")
	}
	if r.OrgID == "" {
		missing = append(missing, "orgId")
	}
	if r.IssueURL == "" {
		missing = append(missing, "issueUrl")
	}
	return missing
}

// HeartbeatResponse answers a successful heartbeat.
type HeartbeatResponse struct {
	Success bool     `json:"success"`
	Viewers []string `json:"viewers"`
}

// ViewersResponse answers a roster read.
type ViewersResponse struct {
	Viewers []string `json:"viewers"`
}

// LeaveResponse answers an explicit leave.
type LeaveResponse struct {
	Success bool `json:"success"`
}

// RoomViewersResponse lists the identified viewers of a push room.
type RoomViewersResponse struct {
	Room    string `json:"room"`
	Viewers []User `json:"viewers"`
}

// MissingFieldsResponse rejects a request with blank required fields.
type MissingFieldsResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
}
