package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Publisher delivers events downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.Type).
		Str("room_id", event.RoomID.String()).
		Int64("version", event.Version).
		Msg("publishing event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
