package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refSet struct {
	mu   sync.Mutex
	refs map[uuid.UUID]bool
}

func (r *refSet) References(roomID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[roomID]
}

func TestReap_EndedRoomAfterPostGameWindow(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()
	rec := &recorder{}
	sub := s.Subscribe(rec)
	defer sub.Close()

	snap, err := s.CreateRoom(ctx, CreateRoomRequest{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = s.EndRoom(ctx, snap.RoomID, "done")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, s.Reap(ctx))

	clock.Advance(25 * time.Second)
	assert.Equal(t, 1, s.Reap(ctx))

	_, err = s.Snapshot(snap.RoomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, []models.ChangeKind{models.ChangeCreated, models.ChangeEnded, models.ChangeRemoved}, rec.kinds())
}

func TestReap_ReferencedRoomKeptUntilRetention(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	snap, err := s.CreateRoom(ctx, CreateRoomRequest{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	refs := &refSet{refs: map[uuid.UUID]bool{snap.RoomID: true}}
	s.SetReferenceChecker(refs)

	_, err = s.EndRoom(ctx, snap.RoomID, "done")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, s.Reap(ctx))

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, s.Reap(ctx))
}

func TestReap_ActiveRoomsUntouched(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	snap, err := s.CreateRoom(ctx, CreateRoomRequest{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, s.Reap(ctx))

	current, err := s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomPhaseActive, current.Phase)
}

func TestReap_ExpiresStaleWaitingRoom(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx := context.Background()

	snap, err := s.CreateRoom(ctx, CreateRoomRequest{ParticipantIDs: []string{"host"}, Open: true})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 0, s.Reap(ctx))

	current, err := s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomPhaseEnded, current.Phase)
	assert.Equal(t, "expired", current.EndReason)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.Reap(ctx))
}

func TestRunReaper_StopsOnCancel(t *testing.T) {
	s, clock := newTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	snap, err := s.CreateRoom(ctx, CreateRoomRequest{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)
	_, err = s.EndRoom(ctx, snap.RoomID, "done")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.RunReaper(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool {
		_, err := s.Snapshot(snap.RoomID)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
