package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RoomPhase defines the lifecycle phase of a room.
type RoomPhase string

const (
	RoomPhaseWaiting RoomPhase = "waiting"
	RoomPhaseActive  RoomPhase = "active"
	RoomPhaseEnded   RoomPhase = "ended"
)

// ChangeOrigin tells observers who caused a room change.
type ChangeOrigin string

const (
	OriginPlayer   ChangeOrigin = "player"
	OriginAutoplay ChangeOrigin = "autoplay"
	OriginFallback ChangeOrigin = "fallback"
	OriginSystem   ChangeOrigin = "system"
)

// ChangeKind defines what kind of mutation produced a snapshot.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "room_created"
	ChangeJoined   ChangeKind = "participant_joined"
	ChangeLeft     ChangeKind = "participant_left"
	ChangeStarted  ChangeKind = "room_started"
	ChangeAction   ChangeKind = "action_applied"
	ChangeAdvance  ChangeKind = "turn_advanced"
	ChangePresence ChangeKind = "presence_changed"
	ChangeEnded    ChangeKind = "room_ended"
	ChangeRemoved  ChangeKind = "room_removed"
)

// Action is an opaque turn payload. Only the rule engine interprets it.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LastChange annotates a snapshot with the mutation that produced it.
type LastChange struct {
	Kind    ChangeKind   `json:"kind"`
	ActorID string       `json:"actor_id,omitempty"`
	Origin  ChangeOrigin `json:"origin"`
	Action  *Action      `json:"action,omitempty"`
	Warning string       `json:"warning,omitempty"`
	At      time.Time    `json:"at"`
}

// Snapshot is the full state of a room as seen by every member. It is a value copy;
// holders may keep it without synchronization.
type Snapshot struct {
	RoomID        uuid.UUID       `json:"room_id"`
	Phase         RoomPhase       `json:"phase"`
	Version       int64           `json:"version"`
	Participants  []Participant   `json:"participants"`
	TurnOwnerID   string          `json:"turn_owner_id,omitempty"`
	TurnDeadline  *time.Time      `json:"turn_deadline,omitempty"`
	PendingAction json.RawMessage `json:"pending_action,omitempty"`
	MinPlayers    int             `json:"min_players"`
	MaxPlayers    int             `json:"max_players"`
	CreatedAt     time.Time       `json:"created_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	EndReason     string          `json:"end_reason,omitempty"`
	LastChange    *LastChange     `json:"last_change,omitempty"`
}

// HasParticipant reports whether userID is a member of the room.
func (s Snapshot) HasParticipant(userID string) bool {
	return s.ParticipantIndex(userID) >= 0
}

// ParticipantIndex returns the seat index of userID, or -1.
func (s Snapshot) ParticipantIndex(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// ParticipantIDs returns user ids in seat order.
func (s Snapshot) ParticipantIDs() []string {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// TimeRemaining returns the time left on the turn clock relative to now.
func (s Snapshot) TimeRemaining(now time.Time) time.Duration {
	if s.TurnDeadline == nil {
		return 0
	}
	remaining := s.TurnDeadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
