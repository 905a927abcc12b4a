package session

import (
	"context"

	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// RunReaper removes finished rooms until ctx is cancelled. An ended room is kept while
// its post-game window is open or something still references it, and removed
// unconditionally once Retention has passed. Waiting rooms that never start are ended
// after Retention.
func (s *Store) RunReaper(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.ReapInterval).Msg("room reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room reaper stopped")
			return
		case <-ticker.Chan():
			s.Reap(ctx)
		}
	}
}

// Reap runs a single reaper pass and returns the number of rooms removed.
func (s *Store) Reap(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.RLock()
	refs := s.refs
	candidates := make([]*room, 0)
	for _, r := range s.rooms {
		candidates = append(candidates, r)
	}
	s.mu.RUnlock()

	removed := 0
	for _, r := range candidates {
		snap := *r.latest.Load()
		switch snap.Phase {
		case models.RoomPhaseWaiting:
			if now.Sub(snap.CreatedAt) < s.cfg.Retention {
				continue
			}
			if _, err := s.EndRoom(ctx, snap.RoomID, "expired"); err != nil {
				log.Warn().Err(err).Str("room_id", snap.RoomID.String()).Msg("failed to expire waiting room")
			}
		case models.RoomPhaseEnded:
			if snap.EndedAt == nil {
				continue
			}
			age := now.Sub(*snap.EndedAt)
			if age < s.cfg.PostGameWindow {
				continue
			}
			if age < s.cfg.Retention && refs != nil && refs.References(snap.RoomID) {
				continue
			}
			s.remove(r)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("reaper pass complete")
	}
	return removed
}
