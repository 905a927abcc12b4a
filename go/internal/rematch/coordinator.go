package rematch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/blocks"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomNotEnded       = errors.New("room has not ended")
	ErrNoEligibleInvitees = errors.New("no eligible invitees")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrNotInvitee         = errors.New("user is not an invitee")
)

// RoomStore is what the coordinator needs from the Session Store.
type RoomStore interface {
	Snapshot(roomID uuid.UUID) (models.Snapshot, error)
	CreateRoom(ctx context.Context, req session.CreateRoomRequest) (models.Snapshot, error)
	Config() session.Config
}

// Listener is told about every invitation change.
type Listener interface {
	OnInvitationChange(inv models.Invitation)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(inv models.Invitation)

func (f ListenerFunc) OnInvitationChange(inv models.Invitation) { f(inv) }

// Config holds the coordinator settings.
type Config struct {
	InvitationTTL time.Duration
	// Retention is how long finished invitations stay readable.
	Retention     time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		InvitationTTL: 60 * time.Second,
		Retention:     10 * time.Minute,
		SweepInterval: 5 * time.Second,
	}
}

// Coordinator runs the rematch invitation state machine. An invitation is pending until
// the first invitee accepts, every invitee declines, any invitee blocks, or it expires.
type Coordinator struct {
	store    RoomStore
	registry blocks.Registry
	clock    clockwork.Clock
	cfg      Config

	mu          sync.Mutex
	invitations map[uuid.UUID]*models.Invitation

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewCoordinator creates a Coordinator. A nil clock uses the real clock.
func NewCoordinator(store RoomStore, registry blocks.Registry, clock clockwork.Clock, cfg Config) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if registry == nil {
		registry = blocks.NewMemoryRegistry()
	}
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = DefaultConfig().InvitationTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Coordinator{
		store:       store,
		registry:    registry,
		clock:       clock,
		cfg:         cfg,
		invitations: make(map[uuid.UUID]*models.Invitation),
	}
}

// AddListener registers l for invitation changes.
func (c *Coordinator) AddListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Coordinator) emit(inv models.Invitation) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, l := range c.listeners {
		l.OnInvitationChange(inv)
	}
}

// Propose invites the other participants of an ended room to play again. Participants
// who have blocked the proposer are left out.
func (c *Coordinator) Propose(ctx context.Context, roomID uuid.UUID, fromUserID string) (models.Invitation, error) {
	snap, err := c.store.Snapshot(roomID)
	if err != nil {
		return models.Invitation{}, err
	}
	if snap.Phase != models.RoomPhaseEnded {
		return models.Invitation{}, fmt.Errorf("%w: phase is %s", ErrRoomNotEnded, snap.Phase)
	}
	if !snap.HasParticipant(fromUserID) {
		return models.Invitation{}, session.ErrNotParticipant
	}

	var invitees []models.Invitee
	for _, id := range snap.ParticipantIDs() {
		if id == fromUserID {
			continue
		}
		blocked, err := c.registry.IsBlocked(ctx, fromUserID, id)
		if err != nil {
			return models.Invitation{}, fmt.Errorf("check block: %w", err)
		}
		if blocked {
			log.Debug().
				Str("room_id", roomID.String()).
				Str("from_user_id", fromUserID).
				Str("user_id", id).
				Msg("skipping blocked invitee")
			continue
		}
		invitees = append(invitees, models.Invitee{UserID: id, Status: models.InvitationPending})
	}
	if len(invitees) == 0 {
		return models.Invitation{}, ErrNoEligibleInvitees
	}

	now := c.clock.Now()
	c.mu.Lock()
	for _, existing := range c.invitations {
		c.expireIfDue(existing, now)
		if existing.RoomID == roomID && existing.FromUserID == fromUserID && existing.Status == models.InvitationPending {
			out := cloneInvitation(existing)
			c.mu.Unlock()
			return out, nil
		}
	}
	inv := &models.Invitation{
		ID:         uuid.New(),
		RoomID:     roomID,
		FromUserID: fromUserID,
		Invitees:   invitees,
		Status:     models.InvitationPending,
		MinPlayers: snap.MinPlayers,
		MaxPlayers: snap.MaxPlayers,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.cfg.InvitationTTL),
	}
	c.invitations[inv.ID] = inv
	out := cloneInvitation(inv)
	c.mu.Unlock()

	log.Info().
		Str("invitation_id", inv.ID.String()).
		Str("room_id", roomID.String()).
		Str("from_user_id", fromUserID).
		Strs("to_user_ids", out.ToUserIDs()).
		Msg("rematch proposed")
	c.emit(out)
	return out, nil
}

// respond locates a pending invitation addressed to userID. Callers hold c.mu.
func (c *Coordinator) respond(invitationID uuid.UUID, userID string) (*models.Invitation, *models.Invitee, error) {
	inv, ok := c.invitations[invitationID]
	if !ok {
		return nil, nil, ErrInvitationNotFound
	}
	c.expireIfDue(inv, c.clock.Now())

	var invitee *models.Invitee
	for i := range inv.Invitees {
		if inv.Invitees[i].UserID == userID {
			invitee = &inv.Invitees[i]
			break
		}
	}
	if invitee == nil {
		return nil, nil, ErrNotInvitee
	}
	if inv.Status != models.InvitationPending || invitee.Status != models.InvitationPending {
		return nil, nil, fmt.Errorf("%w: status is %s", ErrInvitationExpired, inv.Status)
	}
	return inv, invitee, nil
}

// Accept claims the invitation for userID and creates the rematch room with the
// proposer and the acceptor. Only the first acceptance wins. The room keeps the source
// room's player limits; when two players are below the minimum it is created open so
// the remaining invitees can join it before the proposer starts it.
func (c *Coordinator) Accept(ctx context.Context, invitationID uuid.UUID, userID string) (models.Invitation, models.Snapshot, error) {
	c.mu.Lock()
	inv, invitee, err := c.respond(invitationID, userID)
	if err != nil {
		c.mu.Unlock()
		return models.Invitation{}, models.Snapshot{}, err
	}

	participants := []string{inv.FromUserID, userID}
	snap, err := c.store.CreateRoom(ctx, session.CreateRoomRequest{
		ParticipantIDs: participants,
		MinPlayers:     inv.MinPlayers,
		MaxPlayers:     inv.MaxPlayers,
		Open:           len(participants) < c.minPlayers(inv),
	})
	if err != nil {
		c.mu.Unlock()
		return models.Invitation{}, models.Snapshot{}, fmt.Errorf("create rematch room: %w", err)
	}

	now := c.clock.Now()
	invitee.Status = models.InvitationAccepted
	invitee.RespondedAt = &now
	inv.Status = models.InvitationAccepted
	roomID := snap.RoomID
	inv.SpawnedRoomID = &roomID
	out := cloneInvitation(inv)
	c.mu.Unlock()

	log.Info().
		Str("invitation_id", invitationID.String()).
		Str("user_id", userID).
		Str("room_id", roomID.String()).
		Msg("rematch accepted")
	c.emit(out)
	return out, snap, nil
}

func (c *Coordinator) minPlayers(inv *models.Invitation) int {
	if inv.MinPlayers > 0 {
		return inv.MinPlayers
	}
	return c.store.Config().MinPlayers
}

// Decline records userID's refusal. Once every invitee has declined the invitation
// is declined.
func (c *Coordinator) Decline(ctx context.Context, invitationID uuid.UUID, userID string) (models.Invitation, error) {
	c.mu.Lock()
	inv, invitee, err := c.respond(invitationID, userID)
	if err != nil {
		c.mu.Unlock()
		return models.Invitation{}, err
	}

	now := c.clock.Now()
	invitee.Status = models.InvitationDeclined
	invitee.RespondedAt = &now
	allDeclined := true
	for _, other := range inv.Invitees {
		if other.Status != models.InvitationDeclined {
			allDeclined = false
			break
		}
	}
	if allDeclined {
		inv.Status = models.InvitationDeclined
	}
	out := cloneInvitation(inv)
	c.mu.Unlock()

	log.Info().
		Str("invitation_id", invitationID.String()).
		Str("user_id", userID).
		Str("status", string(out.Status)).
		Msg("rematch declined")
	c.emit(out)
	return out, nil
}

// Block records that userID no longer accepts invitations from the proposer, then ends
// the invitation. A failed registry write leaves the invitation pending.
func (c *Coordinator) Block(ctx context.Context, invitationID uuid.UUID, userID string) (models.Invitation, error) {
	c.mu.Lock()
	inv, invitee, err := c.respond(invitationID, userID)
	if err != nil {
		c.mu.Unlock()
		return models.Invitation{}, err
	}

	origin, err := json.Marshal(map[string]string{
		"room_id":       inv.RoomID.String(),
		"invitation_id": inv.ID.String(),
	})
	if err != nil {
		c.mu.Unlock()
		return models.Invitation{}, fmt.Errorf("marshal block origin: %w", err)
	}
	if err := c.registry.Block(ctx, inv.FromUserID, userID, origin); err != nil {
		c.mu.Unlock()
		return models.Invitation{}, fmt.Errorf("record block: %w", err)
	}

	now := c.clock.Now()
	invitee.Status = models.InvitationBlocked
	invitee.RespondedAt = &now
	inv.Status = models.InvitationBlocked
	out := cloneInvitation(inv)
	c.mu.Unlock()

	log.Info().
		Str("invitation_id", invitationID.String()).
		Str("from_user_id", out.FromUserID).
		Str("user_id", userID).
		Msg("rematch blocked")
	c.emit(out)
	return out, nil
}

// Get returns the invitation with expiry applied.
func (c *Coordinator) Get(invitationID uuid.UUID) (models.Invitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, ok := c.invitations[invitationID]
	if !ok {
		return models.Invitation{}, ErrInvitationNotFound
	}
	c.expireIfDue(inv, c.clock.Now())
	return cloneInvitation(inv), nil
}

// References reports whether a pending invitation still points at roomID.
func (c *Coordinator) References(roomID uuid.UUID) bool {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inv := range c.invitations {
		if inv.RoomID == roomID && inv.Status == models.InvitationPending && now.Before(inv.ExpiresAt) {
			return true
		}
	}
	return false
}

// expireIfDue flips a pending invitation past its TTL to expired. Callers hold c.mu.
func (c *Coordinator) expireIfDue(inv *models.Invitation, now time.Time) bool {
	if inv.Status != models.InvitationPending || now.Before(inv.ExpiresAt) {
		return false
	}
	inv.Status = models.InvitationExpired
	return true
}

// Sweep expires overdue invitations and drops finished ones past retention.
func (c *Coordinator) Sweep() (expired, pruned int) {
	now := c.clock.Now()
	var changed []models.Invitation

	c.mu.Lock()
	for id, inv := range c.invitations {
		if c.expireIfDue(inv, now) {
			expired++
			changed = append(changed, cloneInvitation(inv))
			continue
		}
		if inv.Status.IsTerminal() && now.Sub(inv.ExpiresAt) >= c.cfg.Retention {
			delete(c.invitations, id)
			pruned++
		}
	}
	c.mu.Unlock()

	for _, inv := range changed {
		log.Debug().Str("invitation_id", inv.ID.String()).Msg("rematch invitation expired")
		c.emit(inv)
	}
	return expired, pruned
}

// Run sweeps on a ticker until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Sweep()
		}
	}
}

func cloneInvitation(inv *models.Invitation) models.Invitation {
	out := *inv
	out.Invitees = make([]models.Invitee, len(inv.Invitees))
	for i, invitee := range inv.Invitees {
		out.Invitees[i] = invitee
		if invitee.RespondedAt != nil {
			t := *invitee.RespondedAt
			out.Invitees[i].RespondedAt = &t
		}
	}
	if inv.SpawnedRoomID != nil {
		id := *inv.SpawnedRoomID
		out.SpawnedRoomID = &id
	}
	return out
}
