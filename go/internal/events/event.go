package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
)

// Event is one session or invitation change published to downstream consumers.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"event_type"`
	RoomID    uuid.UUID       `json:"room_id"`
	Version   int64           `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// FromChange builds a room event carrying the full snapshot.
func FromChange(change session.Change) (Event, error) {
	payload, err := json.Marshal(change.Snapshot)
	if err != nil {
		return Event{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	at := time.Now().UTC()
	if lc := change.Snapshot.LastChange; lc != nil && !lc.At.IsZero() {
		at = lc.At.UTC()
	}
	return Event{
		ID:        uuid.New(),
		Type:      string(change.Kind),
		RoomID:    change.Snapshot.RoomID,
		Version:   change.Snapshot.Version,
		Payload:   payload,
		CreatedAt: at,
	}, nil
}

// FromInvitation builds an invitation event keyed by the invitation's source room.
func FromInvitation(inv models.Invitation) (Event, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return Event{}, fmt.Errorf("marshal invitation: %w", err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      "invitation_" + string(inv.Status),
		RoomID:    inv.RoomID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}
