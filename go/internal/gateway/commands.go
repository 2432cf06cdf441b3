package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/gamestats"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/rs/zerolog/log"
)

// CommandType is the closed set of commands a client can send.
type CommandType string

const (
	CmdSetScore            CommandType = "setScore"
	CmdSetStat             CommandType = "setStat"
	CmdAddGoal             CommandType = "addGoal"
	CmdAddPenalty          CommandType = "addPenalty"
	CmdAddAction           CommandType = "addAction"
	CmdUndoAction          CommandType = "undoAction"
	CmdDeleteAction        CommandType = "deleteAction"
	CmdRemoveAction        CommandType = "removeAction"
	CmdRemovePenalty       CommandType = "removePenalty"
	CmdStartClock          CommandType = "startClock"
	CmdPauseClock          CommandType = "pauseClock"
	CmdSetClock            CommandType = "setClock"
	CmdResetGame           CommandType = "resetGame"
	CmdGameEnded           CommandType = "gameEnded"
	CmdJoinGame            CommandType = "joinGame"
	CmdLeaveGame           CommandType = "leaveGame"
	CmdJoinUser            CommandType = "joinUser"
	CmdLeaveUser           CommandType = "leaveUser"
	CmdStartUniversalClock CommandType = "startUniversalClock"
	CmdPauseUniversalClock CommandType = "pauseUniversalClock"
	CmdSetUniversalClock   CommandType = "setUniversalClock"
)

// Command is the envelope of every client message.
type Command struct {
	Command   CommandType     `json:"command"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// SetClockRequest sets a game clock's remaining time, and the quarter when given.
type SetClockRequest struct {
	GameID  string `json:"gameId"`
	Minutes int    `json:"minutes"`
	Seconds int    `json:"seconds"`
	Quarter *int   `json:"quarter,omitempty"`
}

// OwnerRequest addresses an owner's universal clock.
type OwnerRequest struct {
	OwnerID string `json:"ownerId"`
}

type SetUniversalClockRequest struct {
	OwnerID string `json:"ownerId"`
	Minutes int    `json:"minutes"`
	Seconds int    `json:"seconds"`
	Quarter *int   `json:"quarter,omitempty"`
}

// Session is the client a command came from.
type Session interface {
	ID() string
	Join(room string)
	Leave(room string)
	SendEvent(ev *events.Event)
}

// StatsApp defines what the gateway needs from the action log engine
type StatsApp interface {
	AddAction(ctx context.Context, gameID uuid.UUID, req gamestats.NewAction) (*models.StatRecord, error)
	AddGoal(ctx context.Context, gameID uuid.UUID, team models.Team, playerNo int) (*models.StatRecord, error)
	AddPenalty(ctx context.Context, gameID uuid.UUID, team models.Team, playerNo int, penalty models.PenaltyDetails) (*models.StatRecord, error)
	DeleteAction(ctx context.Context, gameID, actionID uuid.UUID) (*models.StatRecord, error)
	RemovePenalty(ctx context.Context, gameID, actionID uuid.UUID) (*models.StatRecord, error)
	UndoLastForTeam(ctx context.Context, gameID uuid.UUID, team models.Team) (*models.StatRecord, error)
	SetScore(ctx context.Context, gameID uuid.UUID, team models.Team, score int) (*models.StatRecord, error)
	SetStat(ctx context.Context, gameID uuid.UUID, team models.Team, stat string, value int) (*models.StatRecord, error)
	EndGame(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
}

// ClockEngine defines what the gateway needs from the clock engine
type ClockEngine interface {
	Snapshot(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	Start(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	Pause(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	SetTime(ctx context.Context, gameID uuid.UUID, minutes, seconds int, quarter *int) (*models.StatRecord, error)
	Reset(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error)
	GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error)
	StartUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error)
	PauseUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error)
	SetUniversal(ctx context.Context, ownerID uuid.UUID, minutes, seconds int, quarter *int) (*models.UniversalClock, error)
}

// Commands routes client commands to the engines. Every successful command
// publishes exactly one event; a failed one sends an error event to the
// originating session only.
type Commands struct {
	stats     StatsApp
	clocks    ClockEngine
	publisher events.Publisher
	clock     clockwork.Clock
}

func NewCommands(stats StatsApp, clocks ClockEngine, publisher events.Publisher, clock clockwork.Clock) *Commands {
	if publisher == nil {
		publisher = events.Nop
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Commands{
		stats:     stats,
		clocks:    clocks,
		publisher: publisher,
		clock:     clock,
	}
}

// Handle decodes and dispatches one raw client message.
func (h *Commands) Handle(ctx context.Context, s Session, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		h.sendError(s, cmd, fmt.Errorf("%w: malformed command: %v", models.ErrInvalidArgument, err))
		return
	}
	if err := h.Dispatch(ctx, s, cmd); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", s.ID()).
			Str("command", string(cmd.Command)).
			Str("request_id", cmd.RequestID).
			Msg("command failed")
		h.sendError(s, cmd, err)
	}
}

// Dispatch runs cmd on behalf of s.
func (h *Commands) Dispatch(ctx context.Context, s Session, cmd Command) error {
	switch cmd.Command {
	case CmdSetScore:
		req, err := decode[gamestats.SetScoreRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, team, err := gameAndTeam(req.GameID, req.Team)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventScoreUpdated)(h.stats.SetScore(ctx, gameID, team, req.Score))

	case CmdSetStat:
		req, err := decode[gamestats.SetStatRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, team, err := gameAndTeam(req.GameID, req.Team)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventStatUpdated)(h.stats.SetStat(ctx, gameID, team, req.Stat, req.Value))

	case CmdAddGoal:
		req, err := decode[gamestats.AddGoalRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, team, err := gameAndTeam(req.GameID, req.Team)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventGoalAdded)(h.stats.AddGoal(ctx, gameID, team, req.PlayerNo))

	case CmdAddPenalty:
		req, err := decode[gamestats.AddPenaltyRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, team, err := gameAndTeam(req.GameID, req.Team)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventPenaltyAdded)(h.stats.AddPenalty(ctx, gameID, team, req.PlayerNo, req.Penalty))

	case CmdAddAction:
		req, err := decode[gamestats.AddActionRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, err := gamestats.ParseGameID(req.GameID)
		if err != nil {
			return err
		}
		action, err := req.ToNewAction()
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventActionAdded)(h.stats.AddAction(ctx, gameID, action))

	case CmdUndoAction:
		req, err := decode[gamestats.UndoActionRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, team, err := gameAndTeam(req.GameID, req.Team)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventStatUpdated)(h.stats.UndoLastForTeam(ctx, gameID, team))

	case CmdDeleteAction, CmdRemoveAction:
		gameID, actionID, err := gameAndAction(cmd.Data)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventStatUpdated)(h.stats.DeleteAction(ctx, gameID, actionID))

	case CmdRemovePenalty:
		gameID, actionID, err := gameAndAction(cmd.Data)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventPenaltyRemoved)(h.stats.RemovePenalty(ctx, gameID, actionID))

	case CmdStartClock:
		gameID, err := game(cmd.Data)
		if err != nil {
			return err
		}
		return h.clockUpdated(ctx)(h.clocks.Start(ctx, gameID))

	case CmdPauseClock:
		gameID, err := game(cmd.Data)
		if err != nil {
			return err
		}
		return h.clockUpdated(ctx)(h.clocks.Pause(ctx, gameID))

	case CmdSetClock:
		req, err := decode[SetClockRequest](cmd.Data)
		if err != nil {
			return err
		}
		gameID, err := gamestats.ParseGameID(req.GameID)
		if err != nil {
			return err
		}
		return h.clockUpdated(ctx)(h.clocks.SetTime(ctx, gameID, req.Minutes, req.Seconds, req.Quarter))

	case CmdResetGame:
		gameID, err := game(cmd.Data)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventGameReset)(h.clocks.Reset(ctx, gameID))

	case CmdGameEnded:
		gameID, err := game(cmd.Data)
		if err != nil {
			return err
		}
		return h.record(ctx, events.EventGameEnded)(h.stats.EndGame(ctx, gameID))

	case CmdJoinGame:
		gameID, err := game(cmd.Data)
		if err != nil {
			return err
		}
		return h.JoinGame(ctx, s, gameID)

	case CmdLeaveGame:
		gameID, err := game(cmd.Data)
		if err != nil {
			return err
		}
		s.Leave(events.GameRoom(gameID))
		return nil

	case CmdJoinUser:
		ownerID, err := owner(cmd.Data)
		if err != nil {
			return err
		}
		return h.JoinOwner(ctx, s, ownerID)

	case CmdLeaveUser:
		ownerID, err := owner(cmd.Data)
		if err != nil {
			return err
		}
		s.Leave(events.OwnerRoom(ownerID))
		return nil

	case CmdStartUniversalClock:
		ownerID, err := owner(cmd.Data)
		if err != nil {
			return err
		}
		return h.universalUpdated(ctx)(h.clocks.StartUniversal(ctx, ownerID))

	case CmdPauseUniversalClock:
		ownerID, err := owner(cmd.Data)
		if err != nil {
			return err
		}
		return h.universalUpdated(ctx)(h.clocks.PauseUniversal(ctx, ownerID))

	case CmdSetUniversalClock:
		req, err := decode[SetUniversalClockRequest](cmd.Data)
		if err != nil {
			return err
		}
		ownerID, err := parseOwnerID(req.OwnerID)
		if err != nil {
			return err
		}
		return h.universalUpdated(ctx)(h.clocks.SetUniversal(ctx, ownerID, req.Minutes, req.Seconds, req.Quarter))

	default:
		return fmt.Errorf("%w: unknown command %q", models.ErrInvalidArgument, cmd.Command)
	}
}

// JoinGame subscribes s to the game's room and sends it the current record.
// The session joins before the record is read, so a write committed in
// between reaches it as a broadcast; stale copies are dropped by version.
func (h *Commands) JoinGame(ctx context.Context, s Session, gameID uuid.UUID) error {
	room := events.GameRoom(gameID)
	s.Join(room)
	rec, err := h.clocks.Snapshot(ctx, gameID)
	if err != nil {
		s.Leave(room)
		return err
	}
	ev, err := events.ForRecord(events.EventStatUpdated, rec, h.clock.Now())
	if err != nil {
		s.Leave(room)
		return err
	}
	s.SendEvent(ev)
	return nil
}

// JoinOwner subscribes s to the owner's room and sends it the universal clock.
func (h *Commands) JoinOwner(ctx context.Context, s Session, ownerID uuid.UUID) error {
	room := events.OwnerRoom(ownerID)
	s.Join(room)
	uc, err := h.clocks.GetUniversal(ctx, ownerID)
	if err != nil {
		s.Leave(room)
		return err
	}
	ev, err := events.ForUniversal(events.EventUniversalClockState, uc, h.clock.Now())
	if err != nil {
		s.Leave(room)
		return err
	}
	s.SendEvent(ev)
	return nil
}

func (h *Commands) record(ctx context.Context, eventType events.EventType) func(*models.StatRecord, error) error {
	return func(rec *models.StatRecord, err error) error {
		if err != nil {
			return err
		}
		return h.publish(ctx, func() (*events.Event, error) { return events.ForRecord(eventType, rec, h.clock.Now()) })
	}
}

func (h *Commands) clockUpdated(ctx context.Context) func(*models.StatRecord, error) error {
	return func(rec *models.StatRecord, err error) error {
		if err != nil {
			return err
		}
		return h.publish(ctx, func() (*events.Event, error) { return events.ForClock(rec, h.clock.Now()) })
	}
}

func (h *Commands) universalUpdated(ctx context.Context) func(*models.UniversalClock, error) error {
	return func(uc *models.UniversalClock, err error) error {
		if err != nil {
			return err
		}
		return h.publish(ctx, func() (*events.Event, error) {
			return events.ForUniversal(events.EventUniversalClockUpdated, uc, h.clock.Now())
		})
	}
}

func (h *Commands) publish(ctx context.Context, build func() (*events.Event, error)) error {
	ev, err := build()
	if err != nil {
		return err
	}
	h.publisher.Publish(ctx, ev)
	return nil
}

func (h *Commands) sendError(s Session, cmd Command, err error) {
	ev, buildErr := events.New("", events.EventError, events.ErrorPayload{
		Code:      models.ErrorCode(err),
		Message:   err.Error(),
		Command:   string(cmd.Command),
		RequestID: cmd.RequestID,
	}, h.clock.Now())
	if buildErr != nil {
		log.Error().Err(buildErr).Msg("failed to build error event")
		return
	}
	s.SendEvent(ev)
}

func decode[T any](data json.RawMessage) (*T, error) {
	var out T
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing command data", models.ErrInvalidArgument)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed command data: %v", models.ErrInvalidArgument, err)
	}
	return &out, nil
}

func game(data json.RawMessage) (uuid.UUID, error) {
	req, err := decode[gamestats.GameRequest](data)
	if err != nil {
		return uuid.Nil, err
	}
	return gamestats.ParseGameID(req.GameID)
}

func owner(data json.RawMessage) (uuid.UUID, error) {
	req, err := decode[OwnerRequest](data)
	if err != nil {
		return uuid.Nil, err
	}
	return parseOwnerID(req.OwnerID)
}

func parseOwnerID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed owner id %q", models.ErrInvalidArgument, s)
	}
	return id, nil
}

func gameAndTeam(gameID, team string) (uuid.UUID, models.Team, error) {
	id, err := gamestats.ParseGameID(gameID)
	if err != nil {
		return uuid.Nil, "", err
	}
	t, err := models.ParseTeam(team)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, t, nil
}

func gameAndAction(data json.RawMessage) (uuid.UUID, uuid.UUID, error) {
	req, err := decode[gamestats.ActionRequest](data)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	gameID, err := gamestats.ParseGameID(req.GameID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	actionID, err := gamestats.ParseActionID(req.ActionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return gameID, actionID, nil
}
