package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/presence"
)

// EventType is the type of a server-to-client frame.
type EventType string

const (
	EventTypeSnapshot   EventType = "snapshot"
	EventTypeAck        EventType = "ack"
	EventTypeError      EventType = "error"
	EventTypeInvitation EventType = "invitation"
)

// ServerEvent is the envelope of every frame written to a client.
type ServerEvent struct {
	Type       EventType          `json:"type"`
	RoomID     string             `json:"room_id"`
	RequestID  string             `json:"request_id,omitempty"`
	Version    int64              `json:"version"`
	Timestamp  time.Time          `json:"timestamp"`
	Autoplayed bool               `json:"autoplayed,omitempty"`
	Snapshot   *models.Snapshot   `json:"snapshot,omitempty"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
	Error      *ErrorResponse     `json:"error,omitempty"`
}

// ClientMessageType is the type of a client-to-server frame.
type ClientMessageType string

const (
	ClientMessageAction   ClientMessageType = "action"
	ClientMessageActivity ClientMessageType = "activity"
	ClientMessageResync   ClientMessageType = "resync"
	ClientMessageLeave    ClientMessageType = "leave"
)

// ClientMessage is a frame sent by a client over the room socket.
type ClientMessage struct {
	Type            ClientMessageType `json:"type"`
	RequestID       string            `json:"request_id"`
	ExpectedVersion int64             `json:"expected_version"`
	Action          *models.Action    `json:"action,omitempty"`
	Hint            presence.Hint     `json:"hint,omitempty"`
}

// snapshotEvent frames a snapshot. Autoplay and fallback turns are flagged so clients
// can show that a player was played for.
func snapshotEvent(snap models.Snapshot, requestID string) *ServerEvent {
	ev := &ServerEvent{
		Type:      EventTypeSnapshot,
		RoomID:    snap.RoomID.String(),
		RequestID: requestID,
		Version:   snap.Version,
		Timestamp: time.Now().UTC(),
		Snapshot:  &snap,
	}
	if lc := snap.LastChange; lc != nil {
		ev.Autoplayed = lc.Origin == models.OriginAutoplay || lc.Origin == models.OriginFallback
	}
	return ev
}

func ackEvent(roomID string, requestID string, version int64) *ServerEvent {
	return &ServerEvent{
		Type:      EventTypeAck,
		RoomID:    roomID,
		RequestID: requestID,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func errorEvent(roomID string, requestID string, err error) *ServerEvent {
	resp, _ := NewErrorResponse(err)
	resp.RequestID = requestID
	return &ServerEvent{
		Type:      EventTypeError,
		RoomID:    roomID,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Error:     &resp,
	}
}

func invitationEvent(inv models.Invitation) *ServerEvent {
	return &ServerEvent{
		Type:       EventTypeInvitation,
		RoomID:     inv.RoomID.String(),
		Timestamp:  time.Now().UTC(),
		Invitation: &inv,
	}
}

func encodeEvent(ev *ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}
