package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *memoryPublisher) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryPublisher) Close() error { return nil }

func (m *memoryPublisher) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func TestRelay_PublishesStoreChangesInOrder(t *testing.T) {
	pub := &memoryPublisher{}
	relay := NewRelay(pub, 16)
	store := session.NewStore(session.DefaultConfig(), nil, clockwork.NewFakeClock())
	defer store.Close()
	sub := store.Subscribe(relay)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	snap, err := store.CreateRoom(ctx, session.CreateRoomRequest{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = store.ApplyAction(ctx, session.ApplyRequest{RoomID: snap.RoomID, ActorID: "u1", Action: models.Action{Type: "draw"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, time.Second, 2*time.Millisecond)
	cancel()
	<-done

	events := pub.snapshot()
	assert.Equal(t, string(models.ChangeCreated), events[0].Type)
	assert.Equal(t, string(models.ChangeAction), events[1].Type)
	assert.Equal(t, int64(1), events[1].Version)

	var decoded models.Snapshot
	require.NoError(t, json.Unmarshal(events[1].Payload, &decoded))
	assert.Equal(t, "u2", decoded.TurnOwnerID)
	assert.Equal(t, int64(2), relay.Published())
}

func TestRelay_DropsWhenFull(t *testing.T) {
	relay := NewRelay(&memoryPublisher{}, 1)
	inv := models.Invitation{ID: uuid.New(), RoomID: uuid.New(), Status: models.InvitationPending}

	relay.OnInvitationChange(inv)
	relay.OnInvitationChange(inv)
	assert.Equal(t, int64(1), relay.Dropped())
}

func TestSubjectFor(t *testing.T) {
	roomID := uuid.MustParse("6f1c2b9e-8a57-4c1e-9a51-2f0f5d2d7a10")
	event := Event{RoomID: roomID, Type: "action_applied"}
	assert.Equal(t, "cardroom.events.6f1c2b9e-8a57-4c1e-9a51-2f0f5d2d7a10.action_applied", subjectFor("cardroom.events", event))
}
