package blocks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/cardroom/go/internal/blocks/db"
	"github.com/sqlc-dev/pqtype"
)

type Querier interface {
	UpsertUserBlock(ctx context.Context, arg db.UpsertUserBlockParams) (db.UserBlock, error)
	UserBlockExists(ctx context.Context, arg db.UserBlockExistsParams) (bool, error)
}

// Repository is the Postgres-backed Registry.
type Repository struct {
	queries Querier
}

func NewRepository(querier Querier) *Repository {
	return &Repository{
		queries: querier,
	}
}

func (r *Repository) IsBlocked(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	blocked, err := r.queries.UserBlockExists(ctx, db.UserBlockExistsParams{
		FromUserID: fromUserID,
		ToUserID:   toUserID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check user block: %w", err)
	}
	return blocked, nil
}

func (r *Repository) Block(ctx context.Context, fromUserID, toUserID string, origin json.RawMessage) error {
	if fromUserID == toUserID {
		return ErrSelfBlock
	}
	_, err := r.queries.UpsertUserBlock(ctx, db.UpsertUserBlockParams{
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Origin:     pqtype.NullRawMessage{RawMessage: origin, Valid: len(origin) > 0},
	})
	if err != nil {
		return fmt.Errorf("failed to record user block: %w", err)
	}
	return nil
}
