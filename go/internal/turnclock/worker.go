package turnclock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Run starts the worker pool and blocks until ctx is cancelled. Timers still armed at
// shutdown are cancelled.
func (c *Clock) Run(ctx context.Context) error {
	log.Info().
		Int("workers", c.cfg.Workers).
		Dur("autoplay_timeout", c.cfg.AutoplayTimeout).
		Msg("turn clock started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go c.worker(workerCtx, &wg, i)
	}

	<-ctx.Done()
	log.Info().Msg("turn clock shutdown requested")

	close(c.stop)
	c.timersMu.Lock()
	for roomID, a := range c.timers {
		a.tryCancel()
		log.Debug().Str("room_id", roomID.String()).Msg("cancelled timer on shutdown")
	}
	clear(c.timers)
	c.timersMu.Unlock()

	cancelWorkers()
	wg.Wait()
	log.Info().Msg("all turn clock workers shut down")
	return nil
}

func (c *Clock) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", workerID).Msg("turn clock worker shutting down")
			return
		case a := <-c.workCh:
			if err := c.handleTimeout(ctx, a); err != nil {
				log.Error().
					Err(err).
					Str("room_id", a.roomID.String()).
					Int("worker_id", workerID).
					Msg("turn timeout handling failed")
			}
		}
	}
}

// handleTimeout plays for the owner of an expired turn. If the room moved on since the
// timer was armed, nothing happens. If autoplay cannot produce an accepted action the
// turn is advanced without one so the room never stalls.
func (c *Clock) handleTimeout(ctx context.Context, a *armedTimer) error {
	snap, err := c.store.Snapshot(a.roomID)
	if err != nil {
		if session.IsSuperseded(err) {
			c.superseded.Add(1)
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Phase != models.RoomPhaseActive || snap.Version != a.version || snap.TurnOwnerID != a.ownerID {
		c.superseded.Add(1)
		log.Debug().
			Str("room_id", a.roomID.String()).
			Int64("armed_version", a.version).
			Int64("version", snap.Version).
			Msg("turn moved on before timeout was handled")
		return nil
	}

	log.Info().
		Str("room_id", a.roomID.String()).
		Str("user_id", a.ownerID).
		Int64("version", a.version).
		Msg("turn deadline expired, autoplaying")

	action, err := c.resolve(ctx, snap, a.ownerID)
	if err == nil {
		_, err = c.store.ApplyAction(ctx, session.ApplyRequest{
			RoomID:          a.roomID,
			ActorID:         a.ownerID,
			ExpectedVersion: a.version,
			Action:          action,
			Origin:          models.OriginAutoplay,
		})
		if err == nil {
			c.autoplayed.Add(1)
			return nil
		}
		if session.IsSuperseded(err) {
			c.superseded.Add(1)
			return nil
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	failure := fmt.Errorf("%w: %v", session.ErrAutoplayFailed, err)
	log.Warn().
		Err(failure).
		Str("room_id", a.roomID.String()).
		Str("user_id", a.ownerID).
		Int64("version", a.version).
		Msg("autoplay failed, advancing turn")

	if _, err := c.store.AdvanceTurn(ctx, a.roomID, a.ownerID, a.version, failure.Error()); err != nil {
		if session.IsSuperseded(err) {
			c.superseded.Add(1)
			return nil
		}
		return fmt.Errorf("advance turn: %w", err)
	}
	c.fallbacks.Add(1)
	return nil
}

var errResolverTimeout = errors.New("autoplay resolver timed out")

// resolve runs the resolver under the autoplay ceiling. A resolver that ignores its
// context is abandoned.
func (c *Clock) resolve(ctx context.Context, snap models.Snapshot, ownerID string) (models.Action, error) {
	if c.cfg.AutoplayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AutoplayTimeout)
		defer cancel()
	}

	type resolved struct {
		action models.Action
		err    error
	}
	ch := make(chan resolved, 1)
	go func() {
		action, err := c.resolver.DefaultActionFor(ctx, snap, ownerID)
		ch <- resolved{action: action, err: err}
	}()

	select {
	case res := <-ch:
		return res.action, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Action{}, errResolverTimeout
		}
		return models.Action{}, ctx.Err()
	}
}
