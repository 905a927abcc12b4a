package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/blocks/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_IsDirectional(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Block(ctx, "alice", "bob", nil))

	blocked, err := reg.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = reg.IsBlocked(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, blocked)

	assert.ErrorIs(t, reg.Block(ctx, "alice", "alice", nil), ErrSelfBlock)
}

type fakeQuerier struct {
	upserts []db.UpsertUserBlockParams
	exists  map[db.UserBlockExistsParams]bool
	err     error
}

func (f *fakeQuerier) UpsertUserBlock(ctx context.Context, arg db.UpsertUserBlockParams) (db.UserBlock, error) {
	if f.err != nil {
		return db.UserBlock{}, f.err
	}
	f.upserts = append(f.upserts, arg)
	return db.UserBlock{ID: uuid.New(), FromUserID: arg.FromUserID, ToUserID: arg.ToUserID, Origin: arg.Origin, CreatedAt: time.Now()}, nil
}

func (f *fakeQuerier) UserBlockExists(ctx context.Context, arg db.UserBlockExistsParams) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.exists[arg], nil
}

func TestRepository_Block(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewRepository(q)
	ctx := context.Background()

	origin := json.RawMessage(`{"invitation_id":"abc"}`)
	require.NoError(t, repo.Block(ctx, "alice", "bob", origin))
	require.NoError(t, repo.Block(ctx, "alice", "carol", nil))

	require.Len(t, q.upserts, 2)
	assert.True(t, q.upserts[0].Origin.Valid)
	assert.JSONEq(t, string(origin), string(q.upserts[0].Origin.RawMessage))
	assert.False(t, q.upserts[1].Origin.Valid)

	assert.ErrorIs(t, repo.Block(ctx, "bob", "bob", nil), ErrSelfBlock)
}

func TestRepository_IsBlocked(t *testing.T) {
	q := &fakeQuerier{exists: map[db.UserBlockExistsParams]bool{
		{FromUserID: "alice", ToUserID: "bob"}: true,
	}}
	repo := NewRepository(q)
	ctx := context.Background()

	blocked, err := repo.IsBlocked(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, blocked)

	q.err = errors.New("connection refused")
	_, err = repo.IsBlocked(ctx, "alice", "bob")
	assert.ErrorContains(t, err, "connection refused")
}
