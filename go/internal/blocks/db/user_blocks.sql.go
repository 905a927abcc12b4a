package db

import (
	"context"

	"github.com/sqlc-dev/pqtype"
)

const upsertUserBlock = `-- name: UpsertUserBlock :one
INSERT INTO user_blocks (from_user_id, to_user_id, origin)
VALUES ($1, $2, $3)
ON CONFLICT (from_user_id, to_user_id) DO UPDATE SET origin = EXCLUDED.origin
RETURNING id, from_user_id, to_user_id, origin, created_at
`

type UpsertUserBlockParams struct {
	FromUserID string                `json:"from_user_id"`
	ToUserID   string                `json:"to_user_id"`
	Origin     pqtype.NullRawMessage `json:"origin"`
}

func (q *Queries) UpsertUserBlock(ctx context.Context, arg UpsertUserBlockParams) (UserBlock, error) {
	row := q.db.QueryRowContext(ctx, upsertUserBlock, arg.FromUserID, arg.ToUserID, arg.Origin)
	var i UserBlock
	err := row.Scan(
		&i.ID,
		&i.FromUserID,
		&i.ToUserID,
		&i.Origin,
		&i.CreatedAt,
	)
	return i, err
}

const userBlockExists = `-- name: UserBlockExists :one
SELECT EXISTS (
    SELECT 1 FROM user_blocks WHERE from_user_id = $1 AND to_user_id = $2
)
`

type UserBlockExistsParams struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
}

func (q *Queries) UserBlockExists(ctx context.Context, arg UserBlockExistsParams) (bool, error) {
	row := q.db.QueryRowContext(ctx, userBlockExists, arg.FromUserID, arg.ToUserID)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}
