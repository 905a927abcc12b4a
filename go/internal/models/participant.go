package models

import "time"

// ConnectionState defines the presence of a participant.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionIdle         ConnectionState = "idle"
	ConnectionDisconnected ConnectionState = "disconnected"
)

// Participant is a member of a room. Disconnected participants stay members so the
// game can resume.
type Participant struct {
	UserID          string          `json:"user_id"`
	ConnectionState ConnectionState `json:"connection_state"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
}
