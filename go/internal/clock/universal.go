package clock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/statstore"
	"github.com/rs/zerolog/log"
)

// GetUniversal returns the owner's clock, creating the default clock on first use.
func (e *Engine) GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	uc, err := e.store.GetUniversal(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get universal clock: %w", err)
	}
	return uc, nil
}

// StartUniversal sets the owner's clock running and pushes it to linked games.
func (e *Engine) StartUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	uc, err := e.store.UpdateUniversal(ctx, ownerID, func(c *models.UniversalClock) error {
		if c.Running {
			return statstore.ErrNoChange
		}
		c.Running = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start universal clock: %w", err)
	}
	e.syncUniversalSchedule(ownerID, uc.Running)
	e.propagate(ownerID, uc.Clock())
	return uc, nil
}

// PauseUniversal stops the owner's clock and pushes it to linked games.
func (e *Engine) PauseUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	e.scheduler.Cancel(universalKey(ownerID))
	uc, err := e.store.UpdateUniversal(ctx, ownerID, func(c *models.UniversalClock) error {
		if !c.Running {
			return statstore.ErrNoChange
		}
		c.Running = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pause universal clock: %w", err)
	}
	e.propagate(ownerID, uc.Clock())
	return uc, nil
}

// SetUniversal sets the owner's remaining time, and the quarter when given.
func (e *Engine) SetUniversal(ctx context.Context, ownerID uuid.UUID, minutes, seconds int, quarter *int) (*models.UniversalClock, error) {
	uc, err := e.store.UpdateUniversal(ctx, ownerID, func(c *models.UniversalClock) error {
		q := c.Quarter
		if quarter != nil {
			q = *quarter
		}
		if err := models.ValidateClockTime(q, minutes, seconds); err != nil {
			return err
		}
		c.Quarter, c.Minutes, c.Seconds = q, minutes, seconds
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set universal clock: %w", err)
	}
	e.syncUniversalSchedule(ownerID, uc.Running)
	e.propagate(ownerID, uc.Clock())
	return uc, nil
}

// TickUniversal advances a running universal clock by one second, announces it
// to the owner's room and pushes it to linked games.
func (e *Engine) TickUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	key := universalKey(ownerID)
	return e.tickUniversal(ctx, ownerID, func() { e.scheduler.Cancel(key) })
}

func (e *Engine) tickUniversal(ctx context.Context, ownerID uuid.UUID, stop func()) (*models.UniversalClock, error) {
	var changed bool
	uc, err := e.store.UpdateUniversal(ctx, ownerID, func(c *models.UniversalClock) error {
		clock := c.Clock()
		changed = countDown(&clock)
		if !changed {
			return statstore.ErrNoChange
		}
		c.SetClock(clock)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tick universal clock: %w", err)
	}
	if !uc.Running {
		stop()
	}
	if changed {
		e.publish(ctx, func() (*events.Event, error) {
			return events.ForUniversal(events.EventUniversalClockUpdated, uc, e.clock.Now())
		})
		e.propagate(ownerID, uc.Clock())
	}
	return uc, nil
}

func (e *Engine) syncUniversalSchedule(ownerID uuid.UUID, running bool) {
	key := universalKey(ownerID)
	if !running {
		e.scheduler.Cancel(key)
		return
	}
	e.scheduler.Schedule(key, func(token Token) {
		if _, err := e.tickUniversal(context.Background(), ownerID, func() { e.scheduler.CancelIf(key, token) }); err != nil {
			log.Error().Err(err).Str("owner_id", ownerID.String()).Msg("universal clock tick failed")
		}
	})
}

// propagate hands the fan-out of clock to the dispatcher. Failures are logged
// and never reach the caller.
func (e *Engine) propagate(ownerID uuid.UUID, clock models.Clock) {
	ok := e.dispatcher.Submit(ownerID, func(ctx context.Context) {
		if err := e.pushToGames(ctx, ownerID, clock); err != nil {
			log.Warn().Err(err).Str("owner_id", ownerID.String()).Msg("universal clock propagation incomplete")
		}
	})
	if !ok {
		log.Warn().
			Err(models.ErrPropagation).
			Str("owner_id", ownerID.String()).
			Msg("universal clock propagation dropped")
	}
}

// pushToGames writes clock into every game on the owner's clock-synced fields.
// Games that have ended are skipped. One failing game does not stop the rest.
func (e *Engine) pushToGames(ctx context.Context, ownerID uuid.UUID, clock models.Clock) error {
	gameIDs, err := e.fields.SyncedGames(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("%w: failed to list synced games: %v", models.ErrPropagation, err)
	}

	var failed int
	for _, gameID := range gameIDs {
		// A universal clock drives these games; their own tickers would double count.
		e.scheduler.Cancel(gameKey(gameID))

		var changed bool
		rec, err := e.store.Upsert(ctx, gameID, func(rec *models.StatRecord) error {
			changed = false
			if rec.Ended || rec.Clock == clock {
				return statstore.ErrNoChange
			}
			rec.Clock = clock
			changed = true
			return nil
		})
		if err != nil {
			failed++
			log.Warn().
				Err(fmt.Errorf("%w: %v", models.ErrPropagation, err)).
				Str("owner_id", ownerID.String()).
				Str("game_id", gameID.String()).
				Msg("failed to push universal clock to game")
			continue
		}
		if changed {
			e.publish(ctx, func() (*events.Event, error) {
				return events.ForClock(rec, e.clock.Now())
			})
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d games not updated", models.ErrPropagation, failed, len(gameIDs))
	}
	log.Debug().
		Str("owner_id", ownerID.String()).
		Int("games", len(gameIDs)).
		Msg("universal clock propagated")
	return nil
}
