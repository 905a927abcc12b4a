package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/models"
)

// Config holds the Session Store settings.
type Config struct {
	MinPlayers        int
	MaxPlayers        int
	TurnDuration      time.Duration
	RuleEngineTimeout time.Duration
	PostGameWindow    time.Duration
	Retention         time.Duration
	ReapInterval      time.Duration
	InboxSize         int
}

// DefaultConfig returns default store configuration.
func DefaultConfig() Config {
	return Config{
		MinPlayers:        2,
		MaxPlayers:        4,
		TurnDuration:      30 * time.Second,
		RuleEngineTimeout: 2 * time.Second,
		PostGameWindow:    30 * time.Second,
		Retention:         30 * time.Minute,
		ReapInterval:      10 * time.Second,
		InboxSize:         64,
	}
}

// CreateRoomRequest represents a request to create a room
type CreateRoomRequest struct {
	ParticipantIDs []string
	// Open rooms start in the waiting phase and accept joins until started.
	Open bool
	// Zero values fall back to the store configuration.
	MinPlayers int
	MaxPlayers int
}

// ApplyRequest represents a turn action submission
type ApplyRequest struct {
	RoomID          uuid.UUID
	ActorID         string
	ExpectedVersion int64
	Action          models.Action
	Origin          models.ChangeOrigin
}

// Change is delivered to observers after every accepted mutation, in room order.
type Change struct {
	Kind     models.ChangeKind
	Snapshot models.Snapshot
}

// Observer receives room changes. OnRoomChange runs on the room's own goroutine and
// must not block.
type Observer interface {
	OnRoomChange(change Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(change Change)

func (f ObserverFunc) OnRoomChange(change Change) { f(change) }

// ReferenceChecker reports whether something outside the store still needs an ended room.
type ReferenceChecker interface {
	References(roomID uuid.UUID) bool
}

// Stats summarizes the room table.
type Stats struct {
	Total   int `json:"total"`
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Ended   int `json:"ended"`
}
