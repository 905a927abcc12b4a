package turnclock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
)

// RoomStore is the part of the Session Store the clock drives.
type RoomStore interface {
	Snapshot(roomID uuid.UUID) (models.Snapshot, error)
	ApplyAction(ctx context.Context, req session.ApplyRequest) (models.Snapshot, error)
	AdvanceTurn(ctx context.Context, roomID uuid.UUID, ownerID string, expectedVersion int64, reason string) (models.Snapshot, error)
}

// Config holds the Turn Clock settings.
type Config struct {
	Workers         int
	QueueSize       int
	AutoplayTimeout time.Duration
}

// DefaultConfig returns default clock configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       256,
		AutoplayTimeout: 2 * time.Second,
	}
}

const (
	stateArmed int32 = iota
	stateFired
	stateCancelled
)

// armedTimer is one countdown for one (room, owner, version). It resolves exactly once:
// whichever of fire or cancel flips the state first wins.
type armedTimer struct {
	roomID   uuid.UUID
	ownerID  string
	version  int64
	deadline time.Time

	state     atomic.Int32
	timer     clockwork.Timer
	cancelled chan struct{}
}

func (a *armedTimer) tryFire() bool {
	return a.state.CompareAndSwap(stateArmed, stateFired)
}

func (a *armedTimer) tryCancel() bool {
	if !a.state.CompareAndSwap(stateArmed, stateCancelled) {
		return false
	}
	stopAndDrainTimer(a.timer)
	close(a.cancelled)
	return true
}

// Stats counts what the clock has done since start.
type Stats struct {
	Armed      int64 `json:"armed"`
	Fired      int64 `json:"fired"`
	Autoplayed int64 `json:"autoplayed"`
	Fallbacks  int64 `json:"fallbacks"`
	Superseded int64 `json:"superseded"`
}

// Clock runs turn deadlines for every active room and plays on behalf of owners who
// let them expire.
type Clock struct {
	store    RoomStore
	resolver AutoplayResolver
	clock    clockwork.Clock
	cfg      Config

	timersMu sync.Mutex
	timers   map[uuid.UUID]*armedTimer

	workCh chan *armedTimer
	stop   chan struct{}

	armed, fired, autoplayed, fallbacks, superseded atomic.Int64
}

// New creates a Clock. A nil resolver plays "pass".
func New(store RoomStore, resolver AutoplayResolver, clock clockwork.Clock, cfg Config) *Clock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if resolver == nil {
		resolver = PassResolver{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Clock{
		store:    store,
		resolver: resolver,
		clock:    clock,
		cfg:      cfg,
		timers:   make(map[uuid.UUID]*armedTimer),
		workCh:   make(chan *armedTimer, cfg.QueueSize),
		stop:     make(chan struct{}),
	}
}

// Arm starts the countdown for ownerID at version, replacing any timer the room has.
// Arming again for the same owner and version is a no-op.
func (c *Clock) Arm(roomID uuid.UUID, ownerID string, version int64, deadline time.Time) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	if existing, ok := c.timers[roomID]; ok {
		if existing.version == version && existing.ownerID == ownerID {
			return
		}
		if existing.version > version {
			log.Debug().
				Str("room_id", roomID.String()).
				Int64("version", version).
				Int64("armed_version", existing.version).
				Msg("ignoring arm for older version")
			return
		}
		if existing.tryCancel() {
			log.Debug().Str("room_id", roomID.String()).Msg("replaced existing timer")
		}
	}

	duration := deadline.Sub(c.clock.Now())
	if duration < 0 {
		duration = 0
	}
	a := &armedTimer{
		roomID:    roomID,
		ownerID:   ownerID,
		version:   version,
		deadline:  deadline,
		timer:     c.clock.NewTimer(duration),
		cancelled: make(chan struct{}),
	}
	c.timers[roomID] = a
	c.armed.Add(1)

	go c.await(a)

	log.Debug().
		Str("room_id", roomID.String()).
		Str("user_id", ownerID).
		Int64("version", version).
		Time("deadline", deadline).
		Dur("duration", duration).
		Msg("armed turn timer")
}

func (c *Clock) await(a *armedTimer) {
	select {
	case <-a.timer.Chan():
		if !a.tryFire() {
			return
		}
		c.removeTimer(a)
		c.fired.Add(1)
		select {
		case c.workCh <- a:
			log.Debug().Str("room_id", a.roomID.String()).Msg("timer fired - enqueued for processing")
		case <-c.stop:
		}
	case <-a.cancelled:
	case <-c.stop:
		a.tryCancel()
	}
}

// Cancel stops the room's timer, if any.
func (c *Clock) Cancel(roomID uuid.UUID) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	if a, ok := c.timers[roomID]; ok {
		a.tryCancel()
		delete(c.timers, roomID)
		log.Debug().Str("room_id", roomID.String()).Msg("cancelled turn timer")
	}
}

// removeTimer drops a fired timer unless it was already replaced.
func (c *Clock) removeTimer(a *armedTimer) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.timers[a.roomID] == a {
		delete(c.timers, a.roomID)
	}
}

// Deadline returns the deadline of the room's armed timer.
func (c *Clock) Deadline(roomID uuid.UUID) (time.Time, bool) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	a, ok := c.timers[roomID]
	if !ok {
		return time.Time{}, false
	}
	return a.deadline, true
}

// Stats returns counters since start.
func (c *Clock) Stats() Stats {
	return Stats{
		Armed:      c.armed.Load(),
		Fired:      c.fired.Load(),
		Autoplayed: c.autoplayed.Load(),
		Fallbacks:  c.fallbacks.Load(),
		Superseded: c.superseded.Load(),
	}
}

// OnRoomChange keeps the clock in step with the store: active rooms are armed for the
// current owner and version, ended or removed rooms are cancelled.
func (c *Clock) OnRoomChange(change session.Change) {
	snap := change.Snapshot
	if change.Kind == models.ChangeRemoved || snap.Phase == models.RoomPhaseEnded {
		c.Cancel(snap.RoomID)
		return
	}
	if snap.Phase != models.RoomPhaseActive || snap.TurnDeadline == nil || snap.TurnOwnerID == "" {
		return
	}
	c.Arm(snap.RoomID, snap.TurnOwnerID, snap.Version, *snap.TurnDeadline)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
