package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/auth/db"
	"github.com/mcdev12/cardroom/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// MemoryRevocations is an in-process RevocationChecker.
type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]struct{})}
}

func (m *MemoryRevocations) Revoke(tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = struct{}{}
}

func (m *MemoryRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[tokenID]
	return ok, nil
}

// Querier is the slice of the generated refresh-token queries the repository needs.
type Querier interface {
	GetRefreshToken(ctx context.Context, id uuid.UUID) (db.RefreshToken, error)
}

// Repository checks revocation against the refresh_tokens table. A token counts as
// revoked when its row is unknown, expired, or has revoked_at set. Rotation revokes the
// parent, never the child, so ancestors are not consulted.
type Repository struct {
	queries Querier
	clock   clockwork.Clock
}

// NewRepository creates a Repository. A nil clock uses the real clock.
func NewRepository(querier Querier, clock clockwork.Clock) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{
		queries: querier,
		clock:   clock,
	}
}

func (r *Repository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return true, nil
	}

	token, err := r.queries.GetRefreshToken(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get refresh token: %w", err)
	}

	if revokedAt := sqlutil.FromSqlTime(token.RevokedAt); revokedAt != nil {
		event := log.Debug().
			Str("token_id", tokenID).
			Str("user_id", token.UserID).
			Time("revoked_at", *revokedAt)
		if parent := sqlutil.FromNullUUID(token.ParentID); parent != nil {
			event = event.Str("parent_id", parent.String())
		}
		event.Msg("revoked refresh token presented")
		return true, nil
	}
	return !token.ExpiresAt.After(r.clock.Now()), nil
}
