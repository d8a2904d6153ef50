package session

import "time"

// Status is the lifecycle state of a pairing session.
type Status string

const (
	StatusPairing Status = "pairing"
	StatusPaired  Status = "paired"
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Roles a connection can hold within a session.
const (
	RoleController = "controller"
	RoleViewer     = "viewer"
)

// Session is one pairing between a controller and a viewer. The connection
// IDs are weak references into the signaling hub; the session does not own
// connection lifetime.
type Session struct {
	ID               string
	Secret           string
	Status           Status
	ControllerConnID string
	ViewerConnID     string
	CaptureActive    bool
	ExpiresAt        time.Time
	CreatedAt        time.Time
	LastActivity     time.Time
}

// Expired reports whether the session is past its TTL at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ConnID returns the connection ID recorded for a role, or "" for an
// unknown role.
func (s *Session) ConnID(role string) string {
	switch role {
	case RoleController:
		return s.ControllerConnID
	case RoleViewer:
		return s.ViewerConnID
	}
	return ""
}

// SetConnID records a connection ID against a role slot.
func (s *Session) SetConnID(role, connID string) {
	switch role {
	case RoleController:
		s.ControllerConnID = connID
	case RoleViewer:
		s.ViewerConnID = connID
	}
}
