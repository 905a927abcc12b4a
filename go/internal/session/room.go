package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

type result struct {
	snap models.Snapshot
	err  error
}

// command is one unit of work executed on the room goroutine.
type command struct {
	ctx   context.Context
	run   func(r *room) (models.Snapshot, error)
	reply chan result
}

// room owns the state of one game session. Only its loop goroutine touches the fields
// below latest; everything else reads the published snapshot.
type room struct {
	id    uuid.UUID
	store *Store
	inbox chan command
	stop  chan struct{}
	done  chan struct{}

	stopOnce sync.Once

	latest atomic.Pointer[models.Snapshot]

	phase         models.RoomPhase
	version       int64
	participants  []models.Participant
	turnOwnerID   string
	turnDeadline  *time.Time
	pendingAction json.RawMessage
	minPlayers    int
	maxPlayers    int
	createdAt     time.Time
	endedAt       *time.Time
	endReason     string
	lastChange    *models.LastChange
}

func newRoom(s *Store, participantIDs []string, minPlayers, maxPlayers int, open bool) *room {
	now := s.clock.Now()
	r := &room{
		id:         uuid.New(),
		store:      s,
		inbox:      make(chan command, s.cfg.InboxSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		phase:      models.RoomPhaseWaiting,
		minPlayers: minPlayers,
		maxPlayers: maxPlayers,
		createdAt:  now,
	}
	for _, id := range participantIDs {
		r.participants = append(r.participants, models.Participant{
			UserID:          id,
			ConnectionState: models.ConnectionDisconnected,
			LastActivityAt:  now,
		})
	}
	if !open {
		r.phase = models.RoomPhaseActive
		r.turnOwnerID = r.participants[0].UserID
		r.armDeadline(now)
	}
	r.lastChange = &models.LastChange{Kind: models.ChangeCreated, Origin: models.OriginSystem, At: now}
	r.publish()
	return r
}

func (r *room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case cmd := <-r.inbox:
			if err := cmd.ctx.Err(); err != nil {
				cmd.reply <- result{err: err}
				continue
			}
			snap, err := cmd.run(r)
			cmd.reply <- result{snap: snap, err: err}
		}
	}
}

// halt stops the loop and waits for it to exit.
func (r *room) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// snapshot builds a value copy of the current state.
func (r *room) snapshot() models.Snapshot {
	participants := make([]models.Participant, len(r.participants))
	copy(participants, r.participants)
	snap := models.Snapshot{
		RoomID:        r.id,
		Phase:         r.phase,
		Version:       r.version,
		Participants:  participants,
		TurnOwnerID:   r.turnOwnerID,
		PendingAction: r.pendingAction,
		MinPlayers:    r.minPlayers,
		MaxPlayers:    r.maxPlayers,
		CreatedAt:     r.createdAt,
		EndReason:     r.endReason,
	}
	if r.turnDeadline != nil {
		d := *r.turnDeadline
		snap.TurnDeadline = &d
	}
	if r.endedAt != nil {
		e := *r.endedAt
		snap.EndedAt = &e
	}
	if r.lastChange != nil {
		lc := *r.lastChange
		snap.LastChange = &lc
	}
	return snap
}

func (r *room) publish() models.Snapshot {
	snap := r.snapshot()
	r.latest.Store(&snap)
	return snap
}

// commit publishes the new state and tells observers. Called only from the loop.
func (r *room) commit(kind models.ChangeKind) models.Snapshot {
	snap := r.publish()
	r.store.notify(Change{Kind: kind, Snapshot: snap})
	return snap
}

func (r *room) armDeadline(now time.Time) {
	deadline := now.Add(r.store.cfg.TurnDuration)
	r.turnDeadline = &deadline
}

func (r *room) indexOf(userID string) int {
	for i, p := range r.participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// checkTurn enforces phase, version and ownership for turn mutations.
func (r *room) checkTurn(actorID string, expectedVersion int64) error {
	if r.phase != models.RoomPhaseActive {
		return fmt.Errorf("%w: phase is %s", ErrRoomNotActive, r.phase)
	}
	if expectedVersion != r.version {
		return fmt.Errorf("%w: expected %d, current %d", ErrStaleVersion, expectedVersion, r.version)
	}
	if actorID != r.turnOwnerID {
		return ErrNotTurnOwner
	}
	return nil
}

func (r *room) applyAction(ctx context.Context, req ApplyRequest) (models.Snapshot, error) {
	if err := r.checkTurn(req.ActorID, req.ExpectedVersion); err != nil {
		return models.Snapshot{}, err
	}
	if req.Action.Type == "" {
		return models.Snapshot{}, fmt.Errorf("%w: missing action type", ErrIllegalAction)
	}

	outcome, err := r.validate(ctx, req.ActorID, req.Action)
	if err != nil {
		return models.Snapshot{}, err
	}
	// A caller that gave up during the rule-engine call must not see its action land.
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}

	next := outcome.NextTurnOwnerID
	if next == "" {
		next = nextSeat(r.participants, req.ActorID)
	}
	if r.indexOf(next) < 0 {
		return models.Snapshot{}, fmt.Errorf("%w: next turn owner %q is not a participant", ErrIllegalAction, next)
	}

	now := r.store.clock.Now()
	action := req.Action
	origin := req.Origin
	if origin == "" {
		origin = models.OriginPlayer
	}

	r.version++
	r.pendingAction = outcome.PendingAction
	r.lastChange = &models.LastChange{
		Kind:    models.ChangeAction,
		ActorID: req.ActorID,
		Origin:  origin,
		Action:  &action,
		At:      now,
	}
	if i := r.indexOf(req.ActorID); i >= 0 && origin == models.OriginPlayer {
		r.participants[i].LastActivityAt = now
	}

	if outcome.GameOver {
		r.end(now, "game_over")
		r.lastChange.Kind = models.ChangeEnded
		return r.commit(models.ChangeEnded), nil
	}

	r.turnOwnerID = next
	r.armDeadline(now)
	return r.commit(models.ChangeAction), nil
}

// validate calls the rule engine under the configured ceiling. A call that ignores its
// context is abandoned; its late result is dropped.
func (r *room) validate(ctx context.Context, actorID string, action models.Action) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.store.cfg.RuleEngineTimeout)
	defer cancel()

	snap := r.snapshot()
	ch := make(chan ruling, 1)
	go func() {
		outcome, err := r.store.rules.ValidateAndApply(ctx, snap, actorID, action)
		ch <- ruling{outcome: outcome, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return Outcome{}, fmt.Errorf("%w: %v", ErrRuleEngineTimeout, res.err)
			}
			return Outcome{}, fmt.Errorf("%w: %v", ErrIllegalAction, res.err)
		}
		return res.outcome, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn().
				Str("room_id", r.id.String()).
				Str("actor_id", actorID).
				Dur("ceiling", r.store.cfg.RuleEngineTimeout).
				Msg("rule engine call exceeded ceiling")
			return Outcome{}, ErrRuleEngineTimeout
		}
		return Outcome{}, ctx.Err()
	}
}

type ruling struct {
	outcome Outcome
	err     error
}

func (r *room) advanceTurn(ownerID string, expectedVersion int64, reason string) (models.Snapshot, error) {
	if err := r.checkTurn(ownerID, expectedVersion); err != nil {
		return models.Snapshot{}, err
	}
	now := r.store.clock.Now()
	r.version++
	r.turnOwnerID = nextSeat(r.participants, ownerID)
	r.armDeadline(now)
	r.lastChange = &models.LastChange{
		Kind:    models.ChangeAdvance,
		ActorID: ownerID,
		Origin:  models.OriginFallback,
		Warning: reason,
		At:      now,
	}
	return r.commit(models.ChangeAdvance), nil
}

func (r *room) join(userID string) (models.Snapshot, error) {
	if r.indexOf(userID) >= 0 {
		return r.snapshot(), nil
	}
	if r.phase != models.RoomPhaseWaiting {
		return models.Snapshot{}, fmt.Errorf("%w: phase is %s", ErrRoomNotJoinable, r.phase)
	}
	if len(r.participants) >= r.maxPlayers {
		return models.Snapshot{}, fmt.Errorf("%w: room is full", ErrRoomNotJoinable)
	}
	now := r.store.clock.Now()
	r.participants = append(r.participants, models.Participant{
		UserID:          userID,
		ConnectionState: models.ConnectionDisconnected,
		LastActivityAt:  now,
	})
	r.version++
	r.lastChange = &models.LastChange{Kind: models.ChangeJoined, ActorID: userID, Origin: models.OriginPlayer, At: now}
	return r.commit(models.ChangeJoined), nil
}

func (r *room) leave(userID string) (models.Snapshot, error) {
	i := r.indexOf(userID)
	if i < 0 {
		return models.Snapshot{}, ErrNotParticipant
	}
	now := r.store.clock.Now()
	switch r.phase {
	case models.RoomPhaseWaiting:
		r.participants = append(r.participants[:i], r.participants[i+1:]...)
		r.version++
		r.lastChange = &models.LastChange{Kind: models.ChangeLeft, ActorID: userID, Origin: models.OriginPlayer, At: now}
		if len(r.participants) == 0 {
			r.end(now, "abandoned")
			r.lastChange.Kind = models.ChangeEnded
			return r.commit(models.ChangeEnded), nil
		}
		return r.commit(models.ChangeLeft), nil
	default:
		// Members of a running game keep their seat. Connection state follows the
		// presence tracker as the leaving transport closes.
		return r.snapshot(), nil
	}
}

func (r *room) start(actorID string, expectedVersion int64) (models.Snapshot, error) {
	if r.phase != models.RoomPhaseWaiting {
		return models.Snapshot{}, fmt.Errorf("%w: phase is %s", ErrRoomAlreadyStarted, r.phase)
	}
	if r.indexOf(actorID) != 0 {
		return models.Snapshot{}, ErrNotHost
	}
	if expectedVersion != r.version {
		return models.Snapshot{}, fmt.Errorf("%w: expected %d, current %d", ErrStaleVersion, expectedVersion, r.version)
	}
	if len(r.participants) < r.minPlayers {
		return models.Snapshot{}, fmt.Errorf("%w: need %d players, have %d", ErrInvalidParticipants, r.minPlayers, len(r.participants))
	}
	now := r.store.clock.Now()
	r.phase = models.RoomPhaseActive
	r.version++
	r.turnOwnerID = r.participants[0].UserID
	r.armDeadline(now)
	r.lastChange = &models.LastChange{Kind: models.ChangeStarted, ActorID: actorID, Origin: models.OriginPlayer, At: now}
	return r.commit(models.ChangeStarted), nil
}

func (r *room) endRoom(reason string) (models.Snapshot, error) {
	if r.phase == models.RoomPhaseEnded {
		return r.snapshot(), nil
	}
	now := r.store.clock.Now()
	r.version++
	r.end(now, reason)
	r.lastChange = &models.LastChange{Kind: models.ChangeEnded, Origin: models.OriginSystem, Warning: reason, At: now}
	return r.commit(models.ChangeEnded), nil
}

// end moves the room to ended. The caller bumps the version and commits.
func (r *room) end(now time.Time, reason string) {
	r.phase = models.RoomPhaseEnded
	r.turnOwnerID = ""
	r.turnDeadline = nil
	r.endedAt = &now
	r.endReason = reason
}

func (r *room) setConnectionState(userID string, state models.ConnectionState, at time.Time) (models.Snapshot, error) {
	i := r.indexOf(userID)
	if i < 0 {
		return models.Snapshot{}, ErrNotParticipant
	}
	p := &r.participants[i]
	if state == models.ConnectionConnected && at.After(p.LastActivityAt) {
		p.LastActivityAt = at
	}
	if p.ConnectionState == state {
		return r.publish(), nil
	}
	p.ConnectionState = state
	// Presence is not a game mutation: the version stays put so in-flight turn actions
	// from other players remain valid.
	r.lastChange = &models.LastChange{Kind: models.ChangePresence, ActorID: userID, Origin: models.OriginSystem, At: at}
	return r.commit(models.ChangePresence), nil
}
