package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Sink receives every presence transition.
type Sink interface {
	SetConnectionState(ctx context.Context, roomID uuid.UUID, userID string, state models.ConnectionState, at time.Time) (models.Snapshot, error)
}

// Config holds the tracker settings.
type Config struct {
	IdleWindow    time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns default tracker configuration.
func DefaultConfig() Config {
	return Config{
		IdleWindow:    60 * time.Second,
		SweepInterval: 5 * time.Second,
	}
}

// Hint is a client-reported activity signal. Hints are advisory.
type Hint string

const (
	HintActive Hint = "active"
	HintIdle   Hint = "idle"
)

type key struct {
	roomID uuid.UUID
	userID string
}

type entry struct {
	mu           sync.Mutex
	state        models.ConnectionState
	lastActivity time.Time
	// conns counts open transports; a user may have several tabs on one room.
	conns int
}

// Tracker derives connection state per (room, user) from transport events and
// observed activity, and pushes each transition into the sink.
type Tracker struct {
	sink  Sink
	clock clockwork.Clock
	cfg   Config

	mu      sync.Mutex
	entries map[key]*entry
}

// NewTracker creates a Tracker. A nil clock uses the real clock.
func NewTracker(sink Sink, clock clockwork.Clock, cfg Config) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = DefaultConfig().IdleWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Tracker{
		sink:    sink,
		clock:   clock,
		cfg:     cfg,
		entries: make(map[key]*entry),
	}
}

func (t *Tracker) get(roomID uuid.UUID, userID string, create bool) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{roomID: roomID, userID: userID}
	e, ok := t.entries[k]
	if !ok && create {
		e = &entry{state: models.ConnectionDisconnected}
		t.entries[k] = e
	}
	return e
}

// transition pushes state to the sink and records it once the sink accepted it, so the
// tracker never runs ahead of the store. Callers hold e.mu so pushes for one
// participant reach the sink in the order they were decided.
func (t *Tracker) transition(ctx context.Context, roomID uuid.UUID, userID string, e *entry, state models.ConnectionState, at time.Time) bool {
	if e.state == state {
		return false
	}
	prev := e.state
	if _, err := t.sink.SetConnectionState(ctx, roomID, userID, state, at); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID.String()).
			Str("user_id", userID).
			Str("state", string(state)).
			Msg("failed to record presence transition")
		return false
	}
	e.state = state
	log.Debug().
		Str("room_id", roomID.String()).
		Str("user_id", userID).
		Str("from", string(prev)).
		Str("to", string(state)).
		Msg("presence transition")
	return true
}

// Connect records a successful join or reconnect handshake.
func (t *Tracker) Connect(ctx context.Context, roomID uuid.UUID, userID string) {
	e := t.get(roomID, userID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := t.clock.Now()
	e.conns++
	e.lastActivity = now
	t.transition(ctx, roomID, userID, e, models.ConnectionConnected, now)
}

// Activity records any client input or keepalive. Idle participants become connected.
// Activity without an open transport is ignored.
func (t *Tracker) Activity(ctx context.Context, roomID uuid.UUID, userID string) {
	e := t.get(roomID, userID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conns == 0 {
		return
	}
	now := t.clock.Now()
	e.lastActivity = now
	t.transition(ctx, roomID, userID, e, models.ConnectionConnected, now)
}

// Hint applies a client-reported signal. Only "active" has an effect: the server
// decides when a participant is idle.
func (t *Tracker) Hint(ctx context.Context, roomID uuid.UUID, userID string, hint Hint) {
	if hint == HintActive {
		t.Activity(ctx, roomID, userID)
	}
}

// Disconnect records a transport closing. The participant is disconnected once its
// last transport is gone.
func (t *Tracker) Disconnect(ctx context.Context, roomID uuid.UUID, userID string) {
	e := t.get(roomID, userID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conns > 0 {
		e.conns--
	}
	if e.conns > 0 {
		return
	}
	t.transition(ctx, roomID, userID, e, models.ConnectionDisconnected, t.clock.Now())
}

// State returns the tracked state, disconnected for unknown participants.
func (t *Tracker) State(roomID uuid.UUID, userID string) models.ConnectionState {
	e := t.get(roomID, userID, false)
	if e == nil {
		return models.ConnectionDisconnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Forget drops every entry for the room.
func (t *Tracker) Forget(roomID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if k.roomID == roomID {
			delete(t.entries, k)
		}
	}
}

// OnRoomChange forgets rooms the store has removed.
func (t *Tracker) OnRoomChange(change session.Change) {
	if change.Kind == models.ChangeRemoved {
		t.Forget(change.Snapshot.RoomID)
	}
}

// Sweep marks connected participants idle once their idle window has passed and
// returns how many transitioned.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.clock.Now()

	t.mu.Lock()
	keys := make([]key, 0, len(t.entries))
	entries := make([]*entry, 0, len(t.entries))
	for k, e := range t.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	t.mu.Unlock()

	idled := 0
	for i, e := range entries {
		e.mu.Lock()
		if e.state == models.ConnectionConnected && now.Sub(e.lastActivity) >= t.cfg.IdleWindow {
			if t.transition(ctx, keys[i].roomID, keys[i].userID, e, models.ConnectionIdle, now) {
				idled++
			}
		}
		e.mu.Unlock()
	}
	return idled
}

// Run sweeps on a ticker until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("idle_window", t.cfg.IdleWindow).
		Dur("sweep_interval", t.cfg.SweepInterval).
		Msg("presence tracker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Sweep(ctx)
		}
	}
}
