package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Store is the authoritative holder of every room. Each room is mutated by its own
// goroutine; the table itself is guarded by mu.
type Store struct {
	cfg   Config
	rules RuleEngine
	clock clockwork.Clock

	mu     sync.RWMutex
	rooms  map[uuid.UUID]*room
	closed bool

	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextObsID uint64

	refs ReferenceChecker
}

// NewStore creates a Store. A nil clock uses the real clock.
func NewStore(cfg Config, rules RuleEngine, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rules == nil {
		rules = NewRotationEngine(nil, nil)
	}
	defaults := DefaultConfig()
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaults.InboxSize
	}
	if cfg.RuleEngineTimeout <= 0 {
		cfg.RuleEngineTimeout = defaults.RuleEngineTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaults.ReapInterval
	}
	if cfg.TurnDuration <= 0 {
		cfg.TurnDuration = defaults.TurnDuration
	}
	return &Store{
		cfg:       cfg,
		rules:     rules,
		clock:     clock,
		rooms:     make(map[uuid.UUID]*room),
		observers: make(map[uint64]Observer),
	}
}

// Clock returns the clock the store stamps changes with.
func (s *Store) Clock() clockwork.Clock { return s.clock }

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// SetReferenceChecker installs the checker the reaper consults before removing an
// ended room.
func (s *Store) SetReferenceChecker(refs ReferenceChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = refs
}

// CreateRoom creates a room. Closed rooms start active with the first participant
// owning the turn; open rooms wait for joins and an explicit start.
func (s *Store) CreateRoom(ctx context.Context, req CreateRoomRequest) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}
	minPlayers, maxPlayers := req.MinPlayers, req.MaxPlayers
	if minPlayers <= 0 {
		minPlayers = s.cfg.MinPlayers
	}
	if maxPlayers <= 0 {
		maxPlayers = s.cfg.MaxPlayers
	}
	if err := validateParticipants(req.ParticipantIDs, minPlayers, maxPlayers, req.Open); err != nil {
		return models.Snapshot{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Snapshot{}, ErrStoreClosed
	}
	r := newRoom(s, req.ParticipantIDs, minPlayers, maxPlayers, req.Open)
	s.rooms[r.id] = r
	s.mu.Unlock()

	snap := *r.latest.Load()
	// Observers see the creation before any change the loop produces.
	s.notify(Change{Kind: models.ChangeCreated, Snapshot: snap})
	go r.loop()

	log.Info().
		Str("room_id", r.id.String()).
		Str("phase", string(snap.Phase)).
		Strs("participants", req.ParticipantIDs).
		Msg("room created")
	return snap, nil
}

func validateParticipants(ids []string, minPlayers, maxPlayers int, open bool) error {
	if minPlayers > maxPlayers {
		return fmt.Errorf("%w: min players %d exceeds max %d", ErrInvalidParticipants, minPlayers, maxPlayers)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalidParticipants)
	}
	if len(ids) > maxPlayers {
		return fmt.Errorf("%w: %d participants exceeds max %d", ErrInvalidParticipants, len(ids), maxPlayers)
	}
	if !open && len(ids) < minPlayers {
		return fmt.Errorf("%w: %d participants below min %d", ErrInvalidParticipants, len(ids), minPlayers)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidParticipants)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidParticipants, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Join adds userID to a waiting room. A user who is already a participant gets the
// current snapshot back, which is how reconnects recover state.
func (s *Store) Join(ctx context.Context, roomID uuid.UUID, userID string) (models.Snapshot, error) {
	return s.do(ctx, roomID, func(r *room) (models.Snapshot, error) {
		return r.join(userID)
	})
}

// Leave removes userID from a waiting room. Started rooms keep the seat unchanged.
func (s *Store) Leave(ctx context.Context, roomID uuid.UUID, userID string) (models.Snapshot, error) {
	return s.do(ctx, roomID, func(r *room) (models.Snapshot, error) {
		return r.leave(userID)
	})
}

// StartRoom moves a waiting room to active. Only the host (first seat) may start it.
func (s *Store) StartRoom(ctx context.Context, roomID uuid.UUID, actorID string, expectedVersion int64) (models.Snapshot, error) {
	return s.do(ctx, roomID, func(r *room) (models.Snapshot, error) {
		return r.start(actorID, expectedVersion)
	})
}

// ApplyAction validates and applies a turn action. Checks run in order: phase, version,
// turn ownership, rule engine. A rejected action leaves the room untouched.
func (s *Store) ApplyAction(ctx context.Context, req ApplyRequest) (models.Snapshot, error) {
	return s.do(ctx, req.RoomID, func(r *room) (models.Snapshot, error) {
		return r.applyAction(ctx, req)
	})
}

// AdvanceTurn passes the turn to the next seat without an action. It is the last
// resort when autoplay fails and is subject to the same version check as actions.
func (s *Store) AdvanceTurn(ctx context.Context, roomID uuid.UUID, ownerID string, expectedVersion int64, reason string) (models.Snapshot, error) {
	return s.do(ctx, roomID, func(r *room) (models.Snapshot, error) {
		return r.advanceTurn(ownerID, expectedVersion, reason)
	})
}

// EndRoom ends the room. Ending an ended room returns its snapshot unchanged.
func (s *Store) EndRoom(ctx context.Context, roomID uuid.UUID, reason string) (models.Snapshot, error) {
	return s.do(ctx, roomID, func(r *room) (models.Snapshot, error) {
		return r.endRoom(reason)
	})
}

// SetConnectionState records a presence transition. It never bumps the version.
func (s *Store) SetConnectionState(ctx context.Context, roomID uuid.UUID, userID string, state models.ConnectionState, at time.Time) (models.Snapshot, error) {
	return s.do(ctx, roomID, func(r *room) (models.Snapshot, error) {
		return r.setConnectionState(userID, state, at)
	})
}

// Snapshot returns the latest published state of the room without waiting on its
// goroutine.
func (s *Store) Snapshot(roomID uuid.UUID) (models.Snapshot, error) {
	r, err := s.lookup(roomID)
	if err != nil {
		return models.Snapshot{}, err
	}
	return *r.latest.Load(), nil
}

// Snapshots returns the latest state of every room.
func (s *Store) Snapshots() []models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Snapshot, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, *r.latest.Load())
	}
	return out
}

// Stats counts rooms by phase.
func (s *Store) Stats() Stats {
	var st Stats
	for _, snap := range s.Snapshots() {
		st.Total++
		switch snap.Phase {
		case models.RoomPhaseWaiting:
			st.Waiting++
		case models.RoomPhaseActive:
			st.Active++
		case models.RoomPhaseEnded:
			st.Ended++
		}
	}
	return st
}

func (s *Store) lookup(roomID uuid.UUID) (*room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r, nil
}

// do runs fn on the room goroutine and waits for its result. A context that ends
// before the command is queued means nothing ran. One that ends while waiting for the
// reply yields ErrOutcomeUnknown, since the command may already have committed.
func (s *Store) do(ctx context.Context, roomID uuid.UUID, fn func(r *room) (models.Snapshot, error)) (models.Snapshot, error) {
	r, err := s.lookup(roomID)
	if err != nil {
		return models.Snapshot{}, err
	}

	cmd := command{ctx: ctx, run: fn, reply: make(chan result, 1)}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return models.Snapshot{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	case <-ctx.Done():
		return models.Snapshot{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.snap, res.err
	case <-r.done:
		// The loop may have replied just before stopping.
		select {
		case res := <-cmd.reply:
			return res.snap, res.err
		default:
			return models.Snapshot{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
	case <-ctx.Done():
		select {
		case res := <-cmd.reply:
			return res.snap, res.err
		default:
			return models.Snapshot{}, fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctx.Err())
		}
	}
}

// Subscription is a registered observer. Close it to stop receiving changes.
type Subscription struct {
	store *Store
	id    uint64
	once  sync.Once
}

// Close unregisters the observer. After Close returns no new change is delivered.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.store.obsMu.Lock()
		delete(sub.store.observers, sub.id)
		sub.store.obsMu.Unlock()
	})
}

// Subscribe registers an observer for changes to every room. Observers must not close
// their own subscription from inside OnRoomChange.
func (s *Store) Subscribe(o Observer) *Subscription {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObsID++
	s.observers[s.nextObsID] = o
	return &Subscription{store: s, id: s.nextObsID}
}

func (s *Store) notify(change Change) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.OnRoomChange(change)
	}
}

// remove stops the room goroutine and drops it from the table.
func (s *Store) remove(r *room) {
	r.halt()

	s.mu.Lock()
	current, ok := s.rooms[r.id]
	if !ok || current != r {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, r.id)
	s.mu.Unlock()

	snap := *r.latest.Load()
	snap.LastChange = &models.LastChange{Kind: models.ChangeRemoved, Origin: models.OriginSystem, At: s.clock.Now()}
	s.notify(Change{Kind: models.ChangeRemoved, Snapshot: snap})
	log.Info().Str("room_id", r.id.String()).Msg("room removed")
}

// Close stops every room goroutine. Further operations return ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		r.halt()
	}
	log.Info().Int("rooms", len(rooms)).Msg("session store closed")
}
