package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type UserBlock struct {
	ID         uuid.UUID             `json:"id"`
	FromUserID string                `json:"from_user_id"`
	ToUserID   string                `json:"to_user_id"`
	Origin     pqtype.NullRawMessage `json:"origin"`
	CreatedAt  time.Time             `json:"created_at"`
}
