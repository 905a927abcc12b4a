package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Relay forwards store changes and invitation changes to a Publisher. Observer
// callbacks only enqueue; a single goroutine publishes in arrival order.
type Relay struct {
	publisher Publisher
	queue     chan Event

	published atomic.Int64
	dropped   atomic.Int64
}

func NewRelay(publisher Publisher, bufferSize int) *Relay {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Relay{
		publisher: publisher,
		queue:     make(chan Event, bufferSize),
	}
}

// OnRoomChange implements session.Observer.
func (r *Relay) OnRoomChange(change session.Change) {
	event, err := FromChange(change)
	if err != nil {
		log.Error().Err(err).Str("room_id", change.Snapshot.RoomID.String()).Msg("failed to build room event")
		return
	}
	r.enqueue(event)
}

// OnInvitationChange implements rematch.Listener.
func (r *Relay) OnInvitationChange(inv models.Invitation) {
	event, err := FromInvitation(inv)
	if err != nil {
		log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("failed to build invitation event")
		return
	}
	r.enqueue(event)
}

func (r *Relay) enqueue(event Event) {
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		log.Warn().
			Str("event_type", event.Type).
			Str("room_id", event.RoomID.String()).
			Msg("event queue full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is left.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case event := <-r.queue:
			r.publish(context.Background(), event)
		}
	}
}

func (r *Relay) flush() {
	for {
		select {
		case event := <-r.queue:
			r.publish(context.Background(), event)
		default:
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", event.Type).
			Msg("failed to publish event")
		return
	}
	r.published.Add(1)
}

// Published returns how many events were delivered.
func (r *Relay) Published() int64 { return r.published.Load() }

// Dropped returns how many events were discarded because the queue was full.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }
