package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type RefreshToken struct {
	ID        uuid.UUID     `json:"id"`
	UserID    string        `json:"user_id"`
	ParentID  uuid.NullUUID `json:"parent_id"`
	RevokedAt sql.NullTime  `json:"revoked_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
}
