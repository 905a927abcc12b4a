package blocks

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrSelfBlock = errors.New("cannot block yourself")

// Registry records standing blocks. Block(from, to) means to no longer accepts
// invitations from from.
type Registry interface {
	IsBlocked(ctx context.Context, fromUserID, toUserID string) (bool, error)
	Block(ctx context.Context, fromUserID, toUserID string, origin json.RawMessage) error
}
