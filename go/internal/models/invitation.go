package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus defines the status of a rematch invitation, overall or per invitee.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationBlocked  InvitationStatus = "blocked"
	InvitationExpired  InvitationStatus = "expired"
)

// IsTerminal reports whether no further transitions are possible.
func (s InvitationStatus) IsTerminal() bool {
	return s != InvitationPending
}

// Invitee is one recipient of a rematch invitation.
type Invitee struct {
	UserID      string           `json:"user_id"`
	Status      InvitationStatus `json:"status"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
}

// Invitation is a rematch offer made to the participants of an ended room.
type Invitation struct {
	ID            uuid.UUID        `json:"id"`
	RoomID        uuid.UUID        `json:"room_id"`
	FromUserID    string           `json:"from_user_id"`
	Invitees      []Invitee        `json:"invitees"`
	Status        InvitationStatus `json:"status"`
	SpawnedRoomID *uuid.UUID       `json:"spawned_room_id,omitempty"`

	// MinPlayers and MaxPlayers are carried over from the source room.
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ToUserIDs returns the invitee user ids.
func (i Invitation) ToUserIDs() []string {
	ids := make([]string, len(i.Invitees))
	for n, inv := range i.Invitees {
		ids[n] = inv.UserID
	}
	return ids
}
