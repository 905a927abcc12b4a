package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mcdev12/cardroom/go/internal/models"
)

// Outcome is what the rule engine decides after accepting an action.
type Outcome struct {
	// NextTurnOwnerID is the participant who owns the next turn. Empty means the next
	// seat in order.
	NextTurnOwnerID string
	// PendingAction replaces the room's opaque pending action.
	PendingAction json.RawMessage
	// GameOver ends the room after the action is applied.
	GameOver bool
}

// RuleEngine validates an action against the current snapshot and returns the outcome.
// Any error is treated as a rejection and leaves the room unchanged.
type RuleEngine interface {
	ValidateAndApply(ctx context.Context, snap models.Snapshot, actorID string, action models.Action) (Outcome, error)
}

// RuleEngineFunc adapts a function to RuleEngine.
type RuleEngineFunc func(ctx context.Context, snap models.Snapshot, actorID string, action models.Action) (Outcome, error)

func (f RuleEngineFunc) ValidateAndApply(ctx context.Context, snap models.Snapshot, actorID string, action models.Action) (Outcome, error) {
	return f(ctx, snap, actorID, action)
}

// RotationEngine is the default rule engine used when no game module is plugged in.
// It accepts any allowed action type, stores the payload as the pending action and
// passes the turn to the next seat.
type RotationEngine struct {
	AllowedTypes   []string
	FinishingTypes []string
}

// NewRotationEngine builds a RotationEngine. An empty allowed list accepts every type.
func NewRotationEngine(allowed, finishing []string) *RotationEngine {
	return &RotationEngine{AllowedTypes: allowed, FinishingTypes: finishing}
}

// ValidateAndApply implements RuleEngine.
func (e *RotationEngine) ValidateAndApply(ctx context.Context, snap models.Snapshot, actorID string, action models.Action) (Outcome, error) {
	if len(e.AllowedTypes) > 0 && !slices.Contains(e.AllowedTypes, action.Type) {
		return Outcome{}, fmt.Errorf("action type %q not allowed", action.Type)
	}
	return Outcome{
		NextTurnOwnerID: nextSeat(snap.Participants, actorID),
		PendingAction:   action.Payload,
		GameOver:        slices.Contains(e.FinishingTypes, action.Type),
	}, nil
}

// nextSeat returns the participant seated after userID, wrapping around.
func nextSeat(participants []models.Participant, userID string) string {
	if len(participants) == 0 {
		return ""
	}
	for i, p := range participants {
		if p.UserID == userID {
			return participants[(i+1)%len(participants)].UserID
		}
	}
	return participants[0].UserID
}
