package gamestats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/stats"
	"github.com/mcdev12/scoreboard/go/internal/statstore"
	"github.com/rs/zerolog/log"
)

// StatsStore defines what the app layer needs from the stat store
type StatsStore interface {
	Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error)
	Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	Update(ctx context.Context, gameID uuid.UUID, fn statstore.UpdateFunc) (*models.StatRecord, error)
	Delete(ctx context.Context, gameID uuid.UUID) error
}

// GameDirectory defines what the app layer needs to know about games
type GameDirectory interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.GameRef, error)
	SetEnded(ctx context.Context, gameID uuid.UUID, ended bool) error
}

// NewAction describes one play-by-play action to record.
type NewAction struct {
	Team     models.Team
	Type     models.ActionType
	PlayerNo int
	Penalty  *models.PenaltyDetails
}

// App is the action log engine. Every operation is a single atomic
// read-modify-write of the game's StatRecord, so the aggregate counters always
// match the live action log.
type App struct {
	store StatsStore
	games GameDirectory
	clock clockwork.Clock
}

// NewApp creates a new gamestats App
func NewApp(store StatsStore, games GameDirectory, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		store: store,
		games: games,
		clock: clock,
	}
}

// CreateStats creates the empty record for a known game.
func (a *App) CreateStats(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	if _, err := a.games.GetGame(ctx, gameID); err != nil {
		return nil, fmt.Errorf("failed to look up game: %w", err)
	}
	rec, err := a.store.Create(ctx, models.NewStatRecord(gameID, a.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create stats: %w", err)
	}

	log.Info().Str("game_id", gameID.String()).Msg("game stats created")
	return rec, nil
}

// GetStats returns the current record.
func (a *App) GetStats(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	rec, err := a.store.Get(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return rec, nil
}

// DeleteStats removes the record along with its game.
func (a *App) DeleteStats(ctx context.Context, gameID uuid.UUID) error {
	if err := a.store.Delete(ctx, gameID); err != nil {
		return fmt.Errorf("failed to delete stats: %w", err)
	}
	log.Info().Str("game_id", gameID.String()).Msg("game stats deleted")
	return nil
}

// AddAction appends an action stamped with the current game clock and applies
// it to the acting team's aggregates.
func (a *App) AddAction(ctx context.Context, gameID uuid.UUID, req NewAction) (*models.StatRecord, error) {
	if err := validateAddAction(req); err != nil {
		return nil, err
	}

	var event models.ActionEvent
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		if rec.Ended {
			return endedErr(gameID)
		}
		event = models.ActionEvent{
			ID:        uuid.New(),
			Type:      req.Type,
			Team:      req.Team,
			PlayerNo:  req.PlayerNo,
			Quarter:   rec.Clock.Quarter,
			Minute:    rec.Clock.Minutes,
			Second:    rec.Clock.Seconds,
			Penalty:   req.Penalty,
			CreatedAt: a.clock.Now(),
		}
		rec.Actions = append(rec.Actions, event)
		ts := rec.TeamStats(req.Team)
		*ts = stats.ApplyAction(*ts, req.Type)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add action: %w", err)
	}

	log.Debug().
		Str("game_id", gameID.String()).
		Str("action_id", event.ID.String()).
		Str("type", string(req.Type)).
		Str("team", string(req.Team)).
		Msg("action added")
	return rec, nil
}

// AddGoal records a goal for playerNo.
func (a *App) AddGoal(ctx context.Context, gameID uuid.UUID, team models.Team, playerNo int) (*models.StatRecord, error) {
	return a.AddAction(ctx, gameID, NewAction{Team: team, Type: models.ActionGoal, PlayerNo: playerNo})
}

// AddPenalty records a penalty against playerNo.
func (a *App) AddPenalty(ctx context.Context, gameID uuid.UUID, team models.Team, playerNo int, penalty models.PenaltyDetails) (*models.StatRecord, error) {
	return a.AddAction(ctx, gameID, NewAction{
		Team:     team,
		Type:     models.ActionPenalty,
		PlayerNo: playerNo,
		Penalty:  &penalty,
	})
}

// DeleteAction removes one action from the log and reverses its effect.
func (a *App) DeleteAction(ctx context.Context, gameID, actionID uuid.UUID) (*models.StatRecord, error) {
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		if rec.Ended {
			return endedErr(gameID)
		}
		i := rec.FindAction(actionID)
		if i < 0 {
			return fmt.Errorf("%w: action %s", models.ErrNotFound, actionID)
		}
		removeAt(rec, i)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete action: %w", err)
	}
	return rec, nil
}

// RemovePenalty is DeleteAction restricted to penalty actions.
func (a *App) RemovePenalty(ctx context.Context, gameID, actionID uuid.UUID) (*models.StatRecord, error) {
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		if rec.Ended {
			return endedErr(gameID)
		}
		i := rec.FindAction(actionID)
		if i < 0 {
			return fmt.Errorf("%w: action %s", models.ErrNotFound, actionID)
		}
		if rec.Actions[i].Type != models.ActionPenalty {
			return fmt.Errorf("%w: action %s is a %s, not a penalty", models.ErrInvalidArgument, actionID, rec.Actions[i].Type)
		}
		removeAt(rec, i)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove penalty: %w", err)
	}
	return rec, nil
}

// UndoLastForTeam removes the most recently appended action of team. With no
// action to undo the record is returned unchanged.
func (a *App) UndoLastForTeam(ctx context.Context, gameID uuid.UUID, team models.Team) (*models.StatRecord, error) {
	if _, err := models.ParseTeam(string(team)); err != nil {
		return nil, err
	}
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		if rec.Ended {
			return endedErr(gameID)
		}
		i := rec.LastActionForTeam(team)
		if i < 0 {
			return statstore.ErrNoChange
		}
		removeAt(rec, i)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to undo action: %w", err)
	}
	return rec, nil
}

// SetScore overrides a team's score. Negative values are stored as zero. The
// action log is left alone.
func (a *App) SetScore(ctx context.Context, gameID uuid.UUID, team models.Team, score int) (*models.StatRecord, error) {
	if _, err := models.ParseTeam(string(team)); err != nil {
		return nil, err
	}
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		rec.TeamStats(team).Score = max(score, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set score: %w", err)
	}
	return rec, nil
}

// SetStat overrides one counter of a team. Negative values are stored as zero.
func (a *App) SetStat(ctx context.Context, gameID uuid.UUID, team models.Team, stat string, value int) (*models.StatRecord, error) {
	if _, err := models.ParseTeam(string(team)); err != nil {
		return nil, err
	}
	key, err := stats.ParseStatKey(stat)
	if err != nil {
		return nil, err
	}
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		*stats.Counter(&rec.TeamStats(team).Stats, key) = max(value, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set stat: %w", err)
	}
	return rec, nil
}

// EndGame marks the game over and stops its clock. The action log is frozen
// until the game is reset.
func (a *App) EndGame(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	rec, err := a.store.Update(ctx, gameID, func(rec *models.StatRecord) error {
		if rec.Ended && !rec.Clock.Running {
			return statstore.ErrNoChange
		}
		rec.Ended = true
		rec.Clock.Running = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end game: %w", err)
	}

	if err := a.games.SetEnded(ctx, gameID, true); err != nil {
		log.Warn().Err(err).Str("game_id", gameID.String()).Msg("failed to mark game ended in directory")
	}
	log.Info().Str("game_id", gameID.String()).Msg("game ended")
	return rec, nil
}

// removeAt drops action i and reverses it on the owning team.
func removeAt(rec *models.StatRecord, i int) {
	removed := rec.RemoveAction(i)
	ts := rec.TeamStats(removed.Team)
	*ts = stats.ReverseAction(*ts, removed.Type)
}

func endedErr(gameID uuid.UUID) error {
	return fmt.Errorf("%w: game %s has ended", models.ErrConflict, gameID)
}

func validateAddAction(req NewAction) error {
	var errs []error
	if _, err := models.ParseTeam(string(req.Team)); err != nil {
		errs = append(errs, err)
	}
	if _, err := models.ParseActionType(string(req.Type)); err != nil {
		errs = append(errs, err)
	}
	if req.PlayerNo < 0 {
		errs = append(errs, fmt.Errorf("%w: player number must be >= 0", models.ErrInvalidArgument))
	}
	switch {
	case req.Type == models.ActionPenalty && req.Penalty == nil:
		errs = append(errs, fmt.Errorf("%w: penalty details are required", models.ErrInvalidArgument))
	case req.Type != models.ActionPenalty && req.Penalty != nil:
		errs = append(errs, fmt.Errorf("%w: penalty details on a %s action", models.ErrInvalidArgument, req.Type))
	case req.Penalty != nil:
		if err := req.Penalty.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
