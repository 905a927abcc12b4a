package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_FirstFrameIsResync(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "u2")

	conn, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u1"))
	require.NoError(t, err)

	first := readEvent(t, conn)
	assert.Equal(t, EventTypeSnapshot, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, int64(0), first.Version)
	assert.Equal(t, "u1", first.Snapshot.TurnOwnerID)

	// The handshake marks the user connected; the broadcast keeps the same version.
	presence := readUntil(t, conn, func(ev ServerEvent) bool {
		return ev.Type == EventTypeSnapshot && ev.Snapshot.Participants[0].ConnectionState == models.ConnectionConnected
	})
	assert.Equal(t, int64(0), presence[len(presence)-1].Version)
}

func TestWebSocket_HandshakeErrors(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "u2")

	_, resp, err := env.dial(t, room.RoomID.String(), "bad-token")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Active rooms do not admit new members.
	_, resp, err = env.dial(t, room.RoomID.String(), env.token(t, "u3"))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebSocket_ActionBroadcastAndPrivateReplies(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "u2")

	c1, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u1"))
	require.NoError(t, err)
	c2, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	readEvent(t, c1)
	readEvent(t, c2)

	require.NoError(t, c1.WriteJSON(ClientMessage{
		Type:            ClientMessageAction,
		RequestID:       "r1",
		ExpectedVersion: 0,
		Action:          &models.Action{Type: "draw"},
	}))

	frames := readUntil(t, c1, func(ev ServerEvent) bool { return ev.Type == EventTypeAck })
	ack := frames[len(frames)-1]
	assert.Equal(t, "r1", ack.RequestID)
	assert.Equal(t, int64(1), ack.Version)

	var last int64 = -1
	sawV1 := false
	for _, ev := range frames[:len(frames)-1] {
		if ev.Type != EventTypeSnapshot {
			continue
		}
		assert.GreaterOrEqual(t, ev.Version, last)
		last = ev.Version
		sawV1 = sawV1 || ev.Version == 1
	}
	assert.True(t, sawV1, "the broadcast precedes the ack")

	frames = readUntil(t, c2, func(ev ServerEvent) bool { return ev.Type == EventTypeSnapshot && ev.Version == 1 })
	v1 := frames[len(frames)-1]
	assert.Equal(t, "u2", v1.Snapshot.TurnOwnerID)
	assert.False(t, v1.Autoplayed)
	for _, ev := range frames {
		assert.NotEqual(t, EventTypeAck, ev.Type, "acks go only to the sender")
	}

	// A stale submission is answered privately and changes nothing.
	require.NoError(t, c2.WriteJSON(ClientMessage{
		Type:            ClientMessageAction,
		RequestID:       "r2",
		ExpectedVersion: 0,
		Action:          &models.Action{Type: "draw"},
	}))
	frames = readUntil(t, c2, func(ev ServerEvent) bool { return ev.Type == EventTypeError })
	errFrame := frames[len(frames)-1]
	assert.Equal(t, "r2", errFrame.RequestID)
	require.NotNil(t, errFrame.Error)
	assert.Equal(t, CodeStaleVersion, errFrame.Error.Code)

	snap, err := env.store.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)

	require.NoError(t, c1.WriteJSON(ClientMessage{Type: ClientMessageResync, RequestID: "r3"}))
	frames = readUntil(t, c1, func(ev ServerEvent) bool { return ev.RequestID == "r3" })
	resync := frames[len(frames)-1]
	assert.Equal(t, EventTypeSnapshot, resync.Type)
	assert.Equal(t, int64(1), resync.Version)

	require.NoError(t, c1.WriteJSON(map[string]string{"type": "dance", "request_id": "r4"}))
	frames = readUntil(t, c1, func(ev ServerEvent) bool { return ev.RequestID == "r4" })
	assert.Equal(t, CodeBadRequest, frames[len(frames)-1].Error.Code)
}

func TestWebSocket_LeaveClosesSocket(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "u2")

	conn, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: ClientMessageLeave, RequestID: "bye"}))
	readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == EventTypeAck && ev.RequestID == "bye" })

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// Leaving an active room keeps the seat.
	snap, err := env.store.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.True(t, snap.HasParticipant("u2"))
}

func TestWebSocket_InvitationEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := env.room(t, "u1", "u2")

	c2, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	readEvent(t, c2)

	_, err = env.store.EndRoom(ctx, room.RoomID, "game_over")
	require.NoError(t, err)
	inv, err := env.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	frames := readUntil(t, c2, func(ev ServerEvent) bool { return ev.Type == EventTypeInvitation })
	got := frames[len(frames)-1].Invitation
	require.NotNil(t, got)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, models.InvitationPending, got.Status)
}

func participantState(snap models.Snapshot, userID string) models.ConnectionState {
	for _, p := range snap.Participants {
		if p.UserID == userID {
			return p.ConnectionState
		}
	}
	return ""
}

func TestWebSocket_ReconnectResyncMatchesConnectedClient(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "u2")

	c1, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u1"))
	require.NoError(t, err)
	c2, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	readEvent(t, c1)
	readEvent(t, c2)

	require.NoError(t, c1.WriteJSON(ClientMessage{
		Type:            ClientMessageAction,
		RequestID:       "a1",
		ExpectedVersion: 0,
		Action:          &models.Action{Type: "draw"},
	}))
	readUntil(t, c1, func(ev ServerEvent) bool { return ev.Type == EventTypeAck && ev.RequestID == "a1" })

	before, err := env.store.Snapshot(room.RoomID)
	require.NoError(t, err)
	require.Equal(t, int64(1), before.Version)
	require.Equal(t, "u2", before.TurnOwnerID)

	require.NoError(t, c2.Close())
	frames := readUntil(t, c1, func(ev ServerEvent) bool {
		return ev.Type == EventTypeSnapshot && ev.Version == 1 &&
			participantState(*ev.Snapshot, "u2") == models.ConnectionDisconnected
	})
	seenByConnected := frames[len(frames)-1].Snapshot

	c2, _, err = env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	resync := readEvent(t, c2)
	require.Equal(t, EventTypeSnapshot, resync.Type)
	require.NotNil(t, resync.Snapshot)
	assert.Equal(t, *seenByConnected, *resync.Snapshot)
	assert.Equal(t, before.Version, resync.Version)
	assert.Equal(t, before.TurnOwnerID, resync.Snapshot.TurnOwnerID)

	// Reconnecting flips presence only; owner and version stay put.
	frames = readUntil(t, c1, func(ev ServerEvent) bool {
		return ev.Type == EventTypeSnapshot && participantState(*ev.Snapshot, "u2") == models.ConnectionConnected
	})
	assert.Equal(t, before.Version, frames[len(frames)-1].Version)

	after, err := env.store.Snapshot(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.TurnOwnerID, after.TurnOwnerID)
}

func TestWebSocket_LeaveFromOneTabKeepsOtherConnected(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "u1", "u2")

	tab1, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	tab2, _, err := env.dial(t, room.RoomID.String(), env.token(t, "u2"))
	require.NoError(t, err)
	readEvent(t, tab1)
	readEvent(t, tab2)

	require.NoError(t, tab1.WriteJSON(ClientMessage{Type: ClientMessageLeave, RequestID: "bye"}))
	readUntil(t, tab1, func(ev ServerEvent) bool { return ev.Type == EventTypeAck && ev.RequestID == "bye" })
	_, _, err = tab1.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	u2Disconnected := func() bool {
		snap, err := env.store.Snapshot(room.RoomID)
		return err == nil && participantState(snap, "u2") == models.ConnectionDisconnected
	}
	assert.Never(t, u2Disconnected, 100*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, tab2.WriteJSON(ClientMessage{Type: ClientMessageActivity, RequestID: "ping"}))
	readUntil(t, tab2, func(ev ServerEvent) bool { return ev.Type == EventTypeAck && ev.RequestID == "ping" })
	assert.False(t, u2Disconnected())

	require.NoError(t, tab2.Close())
	assert.Eventually(t, u2Disconnected, time.Second, 5*time.Millisecond)
}
