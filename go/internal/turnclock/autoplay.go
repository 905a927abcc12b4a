package turnclock

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AutoplayResolver chooses the action played on behalf of a turn owner whose deadline
// expired.
type AutoplayResolver interface {
	DefaultActionFor(ctx context.Context, snap models.Snapshot, ownerID string) (models.Action, error)
}

// ResolverFunc adapts a function to AutoplayResolver.
type ResolverFunc func(ctx context.Context, snap models.Snapshot, ownerID string) (models.Action, error)

func (f ResolverFunc) DefaultActionFor(ctx context.Context, snap models.Snapshot, ownerID string) (models.Action, error) {
	return f(ctx, snap, ownerID)
}

// PassResolver always plays the same action type, "pass" unless configured.
type PassResolver struct {
	ActionType string
}

// DefaultActionFor implements AutoplayResolver.
func (r PassResolver) DefaultActionFor(ctx context.Context, snap models.Snapshot, ownerID string) (models.Action, error) {
	t := r.ActionType
	if t == "" {
		t = "pass"
	}
	return models.Action{Type: t}, nil
}

var errNoCandidates = errors.New("no candidate actions")

// RandomResolver picks uniformly from a fixed set of action types.
type RandomResolver struct {
	types []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomResolver constructs a RandomResolver with its own seed.
func NewRandomResolver(types []string) *RandomResolver {
	src := rand.NewSource(time.Now().UnixNano())
	return &RandomResolver{types: types, rng: rand.New(src)}
}

// DefaultActionFor implements AutoplayResolver.
func (r *RandomResolver) DefaultActionFor(ctx context.Context, snap models.Snapshot, ownerID string) (models.Action, error) {
	if len(r.types) == 0 {
		return models.Action{}, errNoCandidates
	}
	r.mu.Lock()
	choice := r.types[r.rng.Intn(len(r.types))]
	r.mu.Unlock()

	log.Debug().
		Str("room_id", snap.RoomID.String()).
		Str("user_id", ownerID).
		Str("action", choice).
		Msg("autoplay picked action")
	return models.Action{Type: choice}, nil
}
