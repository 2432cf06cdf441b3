package gamestats

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/rs/zerolog/log"
)

const ServiceName = "scoreboard.v1.GameStatsService"

const (
	CreateStatsProcedure   = "/" + ServiceName + "/CreateStats"
	GetStatsProcedure      = "/" + ServiceName + "/GetStats"
	DeleteStatsProcedure   = "/" + ServiceName + "/DeleteStats"
	SetScoreProcedure      = "/" + ServiceName + "/SetScore"
	SetStatProcedure       = "/" + ServiceName + "/SetStat"
	AddGoalProcedure       = "/" + ServiceName + "/AddGoal"
	AddPenaltyProcedure    = "/" + ServiceName + "/AddPenalty"
	AddActionProcedure     = "/" + ServiceName + "/AddAction"
	UndoActionProcedure    = "/" + ServiceName + "/UndoAction"
	DeleteActionProcedure  = "/" + ServiceName + "/DeleteAction"
	RemovePenaltyProcedure = "/" + ServiceName + "/RemovePenalty"
	UpdateClockProcedure   = "/" + ServiceName + "/UpdateClock"
	ResetGameProcedure     = "/" + ServiceName + "/ResetGame"
	EndGameProcedure       = "/" + ServiceName + "/EndGame"
)

// StatsApp defines what the service layer needs from the action log engine
type StatsApp interface {
	CreateStats(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	GetStats(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	DeleteStats(ctx context.Context, gameID uuid.UUID) error
	AddAction(ctx context.Context, gameID uuid.UUID, req NewAction) (*models.StatRecord, error)
	AddGoal(ctx context.Context, gameID uuid.UUID, team models.Team, playerNo int) (*models.StatRecord, error)
	AddPenalty(ctx context.Context, gameID uuid.UUID, team models.Team, playerNo int, penalty models.PenaltyDetails) (*models.StatRecord, error)
	DeleteAction(ctx context.Context, gameID, actionID uuid.UUID) (*models.StatRecord, error)
	RemovePenalty(ctx context.Context, gameID, actionID uuid.UUID) (*models.StatRecord, error)
	UndoLastForTeam(ctx context.Context, gameID uuid.UUID, team models.Team) (*models.StatRecord, error)
	SetScore(ctx context.Context, gameID uuid.UUID, team models.Team, score int) (*models.StatRecord, error)
	SetStat(ctx context.Context, gameID uuid.UUID, team models.Team, stat string, value int) (*models.StatRecord, error)
	EndGame(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
}

// ClockControl defines what the service layer needs from the clock engine
type ClockControl interface {
	UpdateClock(ctx context.Context, gameID uuid.UUID, patch models.ClockPatch) (*models.StatRecord, error)
	Reset(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
}

// Service exposes the engines as connect unary handlers and announces every
// change to the game's room.
type Service struct {
	app       StatsApp
	clock     ClockControl
	publisher events.Publisher
	now       clockwork.Clock
}

// NewService creates a new gamestats connect service
func NewService(app StatsApp, clock ClockControl, publisher events.Publisher, now clockwork.Clock) *Service {
	if publisher == nil {
		publisher = events.Nop
	}
	if now == nil {
		now = clockwork.NewRealClock()
	}
	return &Service{
		app:       app,
		clock:     clock,
		publisher: publisher,
		now:       now,
	}
}

// Handler returns the path prefix and handler to mount on a mux.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CreateStatsProcedure, connect.NewUnaryHandler(CreateStatsProcedure, s.CreateStats, opts...))
	mux.Handle(GetStatsProcedure, connect.NewUnaryHandler(GetStatsProcedure, s.GetStats, opts...))
	mux.Handle(DeleteStatsProcedure, connect.NewUnaryHandler(DeleteStatsProcedure, s.DeleteStats, opts...))
	mux.Handle(SetScoreProcedure, connect.NewUnaryHandler(SetScoreProcedure, s.SetScore, opts...))
	mux.Handle(SetStatProcedure, connect.NewUnaryHandler(SetStatProcedure, s.SetStat, opts...))
	mux.Handle(AddGoalProcedure, connect.NewUnaryHandler(AddGoalProcedure, s.AddGoal, opts...))
	mux.Handle(AddPenaltyProcedure, connect.NewUnaryHandler(AddPenaltyProcedure, s.AddPenalty, opts...))
	mux.Handle(AddActionProcedure, connect.NewUnaryHandler(AddActionProcedure, s.AddAction, opts...))
	mux.Handle(UndoActionProcedure, connect.NewUnaryHandler(UndoActionProcedure, s.UndoAction, opts...))
	mux.Handle(DeleteActionProcedure, connect.NewUnaryHandler(DeleteActionProcedure, s.DeleteAction, opts...))
	mux.Handle(RemovePenaltyProcedure, connect.NewUnaryHandler(RemovePenaltyProcedure, s.RemovePenalty, opts...))
	mux.Handle(UpdateClockProcedure, connect.NewUnaryHandler(UpdateClockProcedure, s.UpdateClock, opts...))
	mux.Handle(ResetGameProcedure, connect.NewUnaryHandler(ResetGameProcedure, s.ResetGame, opts...))
	mux.Handle(EndGameProcedure, connect.NewUnaryHandler(EndGameProcedure, s.EndGame, opts...))
	return "/" + ServiceName + "/", mux
}

// CreateStats creates the empty record for a game
func (s *Service) CreateStats(ctx context.Context, req *connect.Request[GameRequest]) (*connect.Response[StatsResponse], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventStatUpdated)(s.app.CreateStats(ctx, gameID))
}

// GetStats returns the current record of a game
func (s *Service) GetStats(ctx context.Context, req *connect.Request[GameRequest]) (*connect.Response[StatsResponse], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	rec, err := s.app.GetStats(ctx, gameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return connect.NewResponse(&StatsResponse{Stats: rec}), nil
}

// DeleteStats removes a game's record
func (s *Service) DeleteStats(ctx context.Context, req *connect.Request[GameRequest]) (*connect.Response[Empty], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	if err := s.app.DeleteStats(ctx, gameID); err != nil {
		return nil, ToConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) SetScore(ctx context.Context, req *connect.Request[SetScoreRequest]) (*connect.Response[StatsResponse], error) {
	gameID, team, err := parseGameAndTeam(req.Msg.GameID, req.Msg.Team)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventScoreUpdated)(s.app.SetScore(ctx, gameID, team, req.Msg.Score))
}

func (s *Service) SetStat(ctx context.Context, req *connect.Request[SetStatRequest]) (*connect.Response[StatsResponse], error) {
	gameID, team, err := parseGameAndTeam(req.Msg.GameID, req.Msg.Team)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventStatUpdated)(s.app.SetStat(ctx, gameID, team, req.Msg.Stat, req.Msg.Value))
}

func (s *Service) AddGoal(ctx context.Context, req *connect.Request[AddGoalRequest]) (*connect.Response[StatsResponse], error) {
	gameID, team, err := parseGameAndTeam(req.Msg.GameID, req.Msg.Team)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventGoalAdded)(s.app.AddGoal(ctx, gameID, team, req.Msg.PlayerNo))
}

func (s *Service) AddPenalty(ctx context.Context, req *connect.Request[AddPenaltyRequest]) (*connect.Response[StatsResponse], error) {
	gameID, team, err := parseGameAndTeam(req.Msg.GameID, req.Msg.Team)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventPenaltyAdded)(s.app.AddPenalty(ctx, gameID, team, req.Msg.PlayerNo, req.Msg.Penalty))
}

func (s *Service) AddAction(ctx context.Context, req *connect.Request[AddActionRequest]) (*connect.Response[StatsResponse], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	action, err := req.Msg.ToNewAction()
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventActionAdded)(s.app.AddAction(ctx, gameID, action))
}

func (s *Service) UndoAction(ctx context.Context, req *connect.Request[UndoActionRequest]) (*connect.Response[StatsResponse], error) {
	gameID, team, err := parseGameAndTeam(req.Msg.GameID, req.Msg.Team)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventStatUpdated)(s.app.UndoLastForTeam(ctx, gameID, team))
}

func (s *Service) DeleteAction(ctx context.Context, req *connect.Request[ActionRequest]) (*connect.Response[StatsResponse], error) {
	gameID, actionID, err := parseGameAndAction(req.Msg)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventStatUpdated)(s.app.DeleteAction(ctx, gameID, actionID))
}

func (s *Service) RemovePenalty(ctx context.Context, req *connect.Request[ActionRequest]) (*connect.Response[StatsResponse], error) {
	gameID, actionID, err := parseGameAndAction(req.Msg)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventPenaltyRemoved)(s.app.RemovePenalty(ctx, gameID, actionID))
}

// UpdateClock applies a partial clock update
func (s *Service) UpdateClock(ctx context.Context, req *connect.Request[UpdateClockRequest]) (*connect.Response[StatsResponse], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	rec, err := s.clock.UpdateClock(ctx, gameID, req.Msg.ClockPatch)
	if err != nil {
		return nil, ToConnectError(err)
	}
	s.publish(ctx, func() (*events.Event, error) { return events.ForClock(rec, s.now.Now()) })
	return connect.NewResponse(&StatsResponse{Stats: rec}), nil
}

// ResetGame clears score, stats, action log and clock
func (s *Service) ResetGame(ctx context.Context, req *connect.Request[GameRequest]) (*connect.Response[StatsResponse], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventGameReset)(s.clock.Reset(ctx, gameID))
}

// EndGame marks a game over
func (s *Service) EndGame(ctx context.Context, req *connect.Request[GameRequest]) (*connect.Response[StatsResponse], error) {
	gameID, err := ParseGameID(req.Msg.GameID)
	if err != nil {
		return nil, ToConnectError(err)
	}
	return s.respond(ctx, events.EventGameEnded)(s.app.EndGame(ctx, gameID))
}

// respond publishes the new record under eventType and builds the response.
func (s *Service) respond(ctx context.Context, eventType events.EventType) func(*models.StatRecord, error) (*connect.Response[StatsResponse], error) {
	return func(rec *models.StatRecord, err error) (*connect.Response[StatsResponse], error) {
		if err != nil {
			return nil, ToConnectError(err)
		}
		s.publish(ctx, func() (*events.Event, error) { return events.ForRecord(eventType, rec, s.now.Now()) })
		return connect.NewResponse(&StatsResponse{Stats: rec}), nil
	}
}

func (s *Service) publish(ctx context.Context, build func() (*events.Event, error)) {
	ev, err := build()
	if err != nil {
		log.Error().Err(err).Msg("failed to build event")
		return
	}
	s.publisher.Publish(ctx, ev)
}

func parseGameAndTeam(gameID, team string) (uuid.UUID, models.Team, error) {
	id, err := ParseGameID(gameID)
	if err != nil {
		return uuid.Nil, "", err
	}
	t, err := models.ParseTeam(team)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, t, nil
}

func parseGameAndAction(req *ActionRequest) (uuid.UUID, uuid.UUID, error) {
	gameID, err := ParseGameID(req.GameID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	actionID, err := ParseActionID(req.ActionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return gameID, actionID, nil
}

// ToConnectError maps the error taxonomy onto connect codes.
func ToConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, models.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, models.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, models.ErrConflict):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, models.ErrStoreUnavailable):
		code = connect.CodeUnavailable
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
