// Package clock drives game clocks and owners' universal clocks: manual
// control, once-per-second countdown ticks, and pushing a universal clock into
// every game played on the owner's clock-synced fields.
package clock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/statstore"
	"github.com/rs/zerolog/log"
)

// Store defines what the engine needs from the stat store
type Store interface {
	Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	Update(ctx context.Context, gameID uuid.UUID, fn statstore.UpdateFunc) (*models.StatRecord, error)
	Upsert(ctx context.Context, gameID uuid.UUID, fn statstore.UpdateFunc) (*models.StatRecord, error)
	statstore.ClockStore
}

// Games defines what the engine needs to know about games
type Games interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.GameRef, error)
	SetEnded(ctx context.Context, gameID uuid.UUID, ended bool) error
}

// Fields resolves the games a universal clock drives
type Fields interface {
	SyncedGames(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error)
}

// Engine is the clock engine. Direct commands return the new state and leave
// announcing it to the caller; ticks and universal propagation publish their
// own clockUpdated and universalClockUpdated events.
type Engine struct {
	store      Store
	games      Games
	fields     Fields
	scheduler  Scheduler
	dispatcher Dispatcher
	publisher  events.Publisher
	clock      clockwork.Clock
}

// Config wires an Engine. Scheduler, Dispatcher, Publisher and Clock have defaults.
type Config struct {
	Store      Store
	Games      Games
	Fields     Fields
	Scheduler  Scheduler
	Dispatcher Dispatcher
	Publisher  events.Publisher
	Clock      clockwork.Clock
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewTickerScheduler(cfg.Clock, 0)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = Inline{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop
	}
	return &Engine{
		store:      cfg.Store,
		games:      cfg.Games,
		fields:     cfg.Fields,
		scheduler:  cfg.Scheduler,
		dispatcher: cfg.Dispatcher,
		publisher:  cfg.Publisher,
		clock:      cfg.Clock,
	}
}

// Stop cancels every ticking clock.
func (e *Engine) Stop() {
	e.scheduler.Stop()
}

// update applies fn to the game's record, creating the record first when the
// game exists but has no statistics yet.
func (e *Engine) update(ctx context.Context, gameID uuid.UUID, fn statstore.UpdateFunc) (*models.StatRecord, error) {
	rec, err := e.store.Update(ctx, gameID, fn)
	if !errors.Is(err, models.ErrNotFound) {
		return rec, err
	}
	if _, gerr := e.games.GetGame(ctx, gameID); gerr != nil {
		return nil, gerr
	}
	return e.store.Upsert(ctx, gameID, fn)
}

// Snapshot returns the game's record, or an empty one for a known game that
// has none yet. Nothing is written.
func (e *Engine) Snapshot(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	rec, err := e.store.Get(ctx, gameID)
	if errors.Is(err, models.ErrNotFound) {
		if _, gerr := e.games.GetGame(ctx, gameID); gerr != nil {
			return nil, fmt.Errorf("failed to load game clock: %w", gerr)
		}
		return models.NewStatRecord(gameID, e.clock.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game clock: %w", err)
	}
	return rec, nil
}

// Start sets the game clock running and schedules its ticks.
func (e *Engine) Start(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	rec, err := e.update(ctx, gameID, func(rec *models.StatRecord) error {
		if rec.Ended {
			return fmt.Errorf("%w: game %s has ended", models.ErrConflict, gameID)
		}
		if rec.Clock.Running {
			return statstore.ErrNoChange
		}
		rec.Clock.Running = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start clock: %w", err)
	}
	e.syncSchedule(gameID, rec.Clock.Running)
	log.Debug().Str("game_id", gameID.String()).Msg("game clock started")
	return rec, nil
}

// Pause stops the game clock.
func (e *Engine) Pause(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	e.scheduler.Cancel(gameKey(gameID))
	rec, err := e.update(ctx, gameID, func(rec *models.StatRecord) error {
		if !rec.Clock.Running {
			return statstore.ErrNoChange
		}
		rec.Clock.Running = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pause clock: %w", err)
	}
	log.Debug().Str("game_id", gameID.String()).Msg("game clock paused")
	return rec, nil
}

// SetTime sets the remaining time, and the quarter when given. A running
// clock keeps running from the new value.
func (e *Engine) SetTime(ctx context.Context, gameID uuid.UUID, minutes, seconds int, quarter *int) (*models.StatRecord, error) {
	return e.UpdateClock(ctx, gameID, models.ClockPatch{Minutes: &minutes, Seconds: &seconds, Quarter: quarter})
}

// UpdateClock applies a partial update. Fields left nil keep their value;
// Running starts or pauses the clock.
func (e *Engine) UpdateClock(ctx context.Context, gameID uuid.UUID, patch models.ClockPatch) (*models.StatRecord, error) {
	rec, err := e.update(ctx, gameID, func(rec *models.StatRecord) error {
		next := applyPatch(rec.Clock, patch)
		if err := models.ValidateClockTime(next.Quarter, next.Minutes, next.Seconds); err != nil {
			return err
		}
		if next.Running && !rec.Clock.Running && rec.Ended {
			return fmt.Errorf("%w: game %s has ended", models.ErrConflict, gameID)
		}
		rec.Clock = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update clock: %w", err)
	}
	e.syncSchedule(gameID, rec.Clock.Running)
	return rec, nil
}

// Reset zeroes score, counters, action log and clock in one write and
// re-opens an ended game. Ticking stops before the state is cleared.
func (e *Engine) Reset(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	e.scheduler.Cancel(gameKey(gameID))

	var wasEnded bool
	rec, err := e.update(ctx, gameID, func(rec *models.StatRecord) error {
		wasEnded = rec.Ended
		rec.HomeTeam = models.TeamStats{}
		rec.AwayTeam = models.TeamStats{}
		rec.Clock = models.Clock{}
		rec.Actions = []models.ActionEvent{}
		rec.Ended = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset game: %w", err)
	}

	if wasEnded {
		if err := e.games.SetEnded(ctx, gameID, false); err != nil {
			log.Warn().Err(err).Str("game_id", gameID.String()).Msg("failed to reopen game in directory")
		}
	}
	log.Info().Str("game_id", gameID.String()).Msg("game reset")
	return rec, nil
}

// Tick advances a running game clock by one second. It is a no-op on a
// stopped clock. The tick that consumes the last second also stops the clock.
func (e *Engine) Tick(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	key := gameKey(gameID)
	return e.tick(ctx, gameID, func() { e.scheduler.Cancel(key) })
}

// tick calls stop once the stored clock is no longer running.
func (e *Engine) tick(ctx context.Context, gameID uuid.UUID, stop func()) (*models.StatRecord, error) {
	var changed bool
	rec, err := e.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		changed = countDown(&rec.Clock)
		if !changed {
			return statstore.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to tick clock: %w", err)
	}
	if !rec.Clock.Running {
		stop()
	}
	if changed {
		e.publish(ctx, func() (*events.Event, error) {
			return events.ForClock(rec, e.clock.Now())
		})
	}
	return rec, nil
}

// syncSchedule makes the ticker for gameID match running. A scheduled tick
// only cancels its own scheduling.
func (e *Engine) syncSchedule(gameID uuid.UUID, running bool) {
	key := gameKey(gameID)
	if !running {
		e.scheduler.Cancel(key)
		return
	}
	e.scheduler.Schedule(key, func(token Token) {
		stop := func() { e.scheduler.CancelIf(key, token) }
		if _, err := e.tick(context.Background(), gameID, stop); err != nil {
			log.Error().Err(err).Str("game_id", gameID.String()).Msg("game clock tick failed")
			if errors.Is(err, models.ErrNotFound) {
				stop()
			}
		}
	})
}

func (e *Engine) publish(ctx context.Context, build func() (*events.Event, error)) {
	ev, err := build()
	if err != nil {
		log.Error().Err(err).Msg("failed to build clock event")
		return
	}
	e.publisher.Publish(ctx, ev)
}

// countDown applies one tick to c and reports whether c changed.
func countDown(c *models.Clock) bool {
	if !c.Running {
		return false
	}
	total := c.TotalSeconds()
	if total <= 0 {
		c.Minutes, c.Seconds, c.Running = 0, 0, false
		return true
	}
	c.SetTotalSeconds(total - 1)
	if total-1 == 0 {
		c.Running = false
	}
	return true
}

func applyPatch(c models.Clock, p models.ClockPatch) models.Clock {
	if p.Quarter != nil {
		c.Quarter = *p.Quarter
	}
	if p.Minutes != nil {
		c.Minutes = *p.Minutes
	}
	if p.Seconds != nil {
		c.Seconds = *p.Seconds
	}
	if p.Running != nil {
		c.Running = *p.Running
	}
	return c
}
