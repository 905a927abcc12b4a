package rematch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/blocks"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *session.Store
	registry *blocks.MemoryRegistry
	coord    *Coordinator
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := session.NewStore(session.DefaultConfig(), nil, clock)
	t.Cleanup(store.Close)
	registry := blocks.NewMemoryRegistry()
	coord := NewCoordinator(store, registry, clock, DefaultConfig())
	store.SetReferenceChecker(coord)
	return &fixture{store: store, registry: registry, coord: coord, clock: clock}
}

func (f *fixture) endedRoom(t *testing.T, ids ...string) models.Snapshot {
	t.Helper()
	ctx := context.Background()
	snap, err := f.store.CreateRoom(ctx, session.CreateRoomRequest{ParticipantIDs: ids})
	require.NoError(t, err)
	snap, err = f.store.EndRoom(ctx, snap.RoomID, "game_over")
	require.NoError(t, err)
	return snap
}

func TestPropose_RequiresEndedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.store.CreateRoom(ctx, session.CreateRoomRequest{ParticipantIDs: []string{"u1", "u2"}})
	require.NoError(t, err)

	_, err = f.coord.Propose(ctx, snap.RoomID, "u1")
	assert.ErrorIs(t, err, ErrRoomNotEnded)

	_, err = f.coord.Propose(ctx, uuid.New(), "u1")
	assert.ErrorIs(t, err, session.ErrRoomNotFound)
}

func TestPropose_InvitesOtherParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2", "u3", "u4")

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, inv.Status)
	assert.Equal(t, []string{"u2", "u3", "u4"}, inv.ToUserIDs())
	assert.Equal(t, f.clock.Now().Add(DefaultConfig().InvitationTTL), inv.ExpiresAt)
	assert.True(t, f.coord.References(room.RoomID))

	again, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID)

	_, err = f.coord.Propose(ctx, room.RoomID, "stranger")
	assert.ErrorIs(t, err, session.ErrNotParticipant)
}

func TestPropose_SkipsBlockedInvitees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2", "u3")

	require.NoError(t, f.registry.Block(ctx, "u1", "u2", nil))

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, inv.ToUserIDs())

	require.NoError(t, f.registry.Block(ctx, "u2", "u1", nil))
	room2 := f.endedRoom(t, "u2", "u1")
	_, err = f.coord.Propose(ctx, room2.RoomID, "u2")
	assert.ErrorIs(t, err, ErrNoEligibleInvitees)
}

func TestAccept_FirstAcceptWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2", "u3", "u4")

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	accepted, snap, err := f.coord.Accept(ctx, inv.ID, "u3")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, accepted.Status)
	require.NotNil(t, accepted.SpawnedRoomID)
	assert.Equal(t, snap.RoomID, *accepted.SpawnedRoomID)
	assert.Equal(t, []string{"u1", "u3"}, snap.ParticipantIDs())
	assert.Equal(t, models.RoomPhaseActive, snap.Phase)

	_, _, err = f.coord.Accept(ctx, inv.ID, "u2")
	assert.ErrorIs(t, err, ErrInvitationExpired)
	_, err = f.coord.Decline(ctx, inv.ID, "u4")
	assert.ErrorIs(t, err, ErrInvitationExpired)

	assert.False(t, f.coord.References(room.RoomID))
	assert.Equal(t, 2, f.store.Stats().Total)
}

func TestAccept_ConcurrentCreatesOneRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2", "u3", "u4")

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for _, id := range []string{"u2", "u3", "u4"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, _, err := f.coord.Accept(ctx, inv.ID, userID)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrInvitationExpired)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 2, f.store.Stats().Total)
}

func TestDecline_AllDeclinedClosesInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2", "u3", "u4")

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	for i, id := range []string{"u2", "u3", "u4"} {
		inv, err = f.coord.Decline(ctx, inv.ID, id)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, models.InvitationPending, inv.Status)
		}
	}
	assert.Equal(t, models.InvitationDeclined, inv.Status)
	for _, invitee := range inv.Invitees {
		assert.Equal(t, models.InvitationDeclined, invitee.Status)
		assert.NotNil(t, invitee.RespondedAt)
	}

	_, err = f.coord.Decline(ctx, inv.ID, "u2")
	assert.ErrorIs(t, err, ErrInvitationExpired)
	assert.Equal(t, 1, f.store.Stats().Total)
}

func TestDecline_NotInvitee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2")

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	_, err = f.coord.Decline(ctx, inv.ID, "u1")
	assert.ErrorIs(t, err, ErrNotInvitee)
	_, err = f.coord.Decline(ctx, uuid.New(), "u2")
	assert.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestBlock_EndsInvitationAndRecordsBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2", "u3")

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	inv, err = f.coord.Block(ctx, inv.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationBlocked, inv.Status)

	blocked, err := f.registry.IsBlocked(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, blocked)

	_, _, err = f.coord.Accept(ctx, inv.ID, "u3")
	assert.ErrorIs(t, err, ErrInvitationExpired)

	// The next proposal from u1 skips u2.
	next := f.endedRoom(t, "u1", "u2", "u3")
	inv, err = f.coord.Propose(ctx, next.RoomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, inv.ToUserIDs())
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2")

	var mu sync.Mutex
	var seen []models.InvitationStatus
	f.coord.AddListener(ListenerFunc(func(inv models.Invitation) {
		mu.Lock()
		seen = append(seen, inv.Status)
		mu.Unlock()
	}))

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	assert.False(t, f.coord.References(room.RoomID))

	_, _, err = f.coord.Accept(ctx, inv.ID, "u2")
	assert.ErrorIs(t, err, ErrInvitationExpired)

	got, err := f.coord.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationExpired, got.Status)

	f.clock.Advance(DefaultConfig().Retention)
	_, pruned := f.coord.Sweep()
	assert.Equal(t, 1, pruned)
	_, err = f.coord.Get(inv.ID)
	assert.ErrorIs(t, err, ErrInvitationNotFound)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.InvitationStatus{models.InvitationPending}, seen)
}

func TestSweep_EmitsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2")

	var got []models.Invitation
	f.coord.AddListener(ListenerFunc(func(inv models.Invitation) { got = append(got, inv) }))

	_, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	expired, _ := f.coord.Sweep()
	assert.Equal(t, 1, expired)
	require.Len(t, got, 2)
	assert.Equal(t, models.InvitationExpired, got[1].Status)
}

func TestReaperKeepsReferencedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.endedRoom(t, "u1", "u2")

	_, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	f.clock.Advance(45 * time.Second)
	assert.Equal(t, 0, f.store.Reap(ctx))

	f.clock.Advance(30 * time.Second)
	assert.Equal(t, 1, f.store.Reap(ctx))
}

func TestAccept_KeepsSourceRoomLimits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := session.DefaultConfig()
	cfg.MinPlayers = 3
	store := session.NewStore(cfg, nil, clock)
	t.Cleanup(store.Close)
	coord := NewCoordinator(store, blocks.NewMemoryRegistry(), clock, DefaultConfig())
	store.SetReferenceChecker(coord)
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, session.CreateRoomRequest{ParticipantIDs: []string{"u1", "u2", "u3"}})
	require.NoError(t, err)
	_, err = store.EndRoom(ctx, room.RoomID, "game_over")
	require.NoError(t, err)

	inv, err := coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, inv.MinPlayers)

	accepted, snap, err := coord.Accept(ctx, inv.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, accepted.Status)
	assert.Equal(t, models.RoomPhaseWaiting, snap.Phase)
	assert.Equal(t, []string{"u1", "u2"}, snap.ParticipantIDs())
	assert.Equal(t, 3, snap.MinPlayers)
	assert.Equal(t, cfg.MaxPlayers, snap.MaxPlayers)

	// The remaining invitee joins the spawned room instead of accepting.
	_, _, err = coord.Accept(ctx, inv.ID, "u3")
	assert.ErrorIs(t, err, ErrInvitationExpired)
	snap, err = store.Join(ctx, *accepted.SpawnedRoomID, "u3")
	require.NoError(t, err)

	snap, err = store.StartRoom(ctx, snap.RoomID, "u1", snap.Version)
	require.NoError(t, err)
	assert.Equal(t, models.RoomPhaseActive, snap.Phase)
	assert.Equal(t, "u1", snap.TurnOwnerID)
}

func TestAccept_PerRoomMinimum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.store.CreateRoom(ctx, session.CreateRoomRequest{
		ParticipantIDs: []string{"u1", "u2", "u3", "u4"},
		MinPlayers:     4,
	})
	require.NoError(t, err)
	_, err = f.store.EndRoom(ctx, room.RoomID, "game_over")
	require.NoError(t, err)

	inv, err := f.coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)
	_, snap, err := f.coord.Accept(ctx, inv.ID, "u4")
	require.NoError(t, err)
	assert.Equal(t, models.RoomPhaseWaiting, snap.Phase)
	assert.Equal(t, 4, snap.MinPlayers)
}

type failingRegistry struct {
	*blocks.MemoryRegistry
}

func (failingRegistry) Block(ctx context.Context, fromUserID, toUserID string, origin json.RawMessage) error {
	return errors.New("registry unavailable")
}

func TestBlock_RegistryFailureLeavesInvitationPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := session.NewStore(session.DefaultConfig(), nil, clock)
	t.Cleanup(store.Close)
	coord := NewCoordinator(store, failingRegistry{blocks.NewMemoryRegistry()}, clock, DefaultConfig())
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, session.CreateRoomRequest{ParticipantIDs: []string{"u1", "u2", "u3"}})
	require.NoError(t, err)
	_, err = store.EndRoom(ctx, room.RoomID, "game_over")
	require.NoError(t, err)

	var events int
	coord.AddListener(ListenerFunc(func(models.Invitation) { events++ }))

	inv, err := coord.Propose(ctx, room.RoomID, "u1")
	require.NoError(t, err)

	_, err = coord.Block(ctx, inv.ID, "u2")
	require.Error(t, err)

	got, err := coord.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, got.Status)
	for _, invitee := range got.Invitees {
		assert.Equal(t, models.InvitationPending, invitee.Status)
	}
	assert.Equal(t, 1, events)

	// The invitation is still usable.
	_, _, err = coord.Accept(ctx, inv.ID, "u3")
	require.NoError(t, err)
}
