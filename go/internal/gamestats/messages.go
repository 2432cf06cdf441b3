package gamestats

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// Request and response bodies of the GameStatsService. The gateway decodes the
// data of its websocket commands into the same types.

type GameRequest struct {
	GameID string `json:"gameId"`
}

type SetScoreRequest struct {
	GameID string `json:"gameId"`
	Team   string `json:"team"`
	Score  int    `json:"score"`
}

type SetStatRequest struct {
	GameID string `json:"gameId"`
	Team   string `json:"team"`
	Stat   string `json:"stat"`
	Value  int    `json:"value"`
}

type AddGoalRequest struct {
	GameID   string `json:"gameId"`
	Team     string `json:"team"`
	PlayerNo int    `json:"playerNo"`
}

type AddPenaltyRequest struct {
	GameID   string                `json:"gameId"`
	Team     string                `json:"team"`
	PlayerNo int                   `json:"playerNo"`
	Penalty  models.PenaltyDetails `json:"penalty"`
}

type AddActionRequest struct {
	GameID   string                 `json:"gameId"`
	Team     string                 `json:"team"`
	Type     string                 `json:"type"`
	PlayerNo int                    `json:"playerNo"`
	Penalty  *models.PenaltyDetails `json:"penalty,omitempty"`
}

// ActionRequest addresses one entry of the action log.
type ActionRequest struct {
	GameID   string `json:"gameId"`
	ActionID string `json:"actionId"`
}

type UndoActionRequest struct {
	GameID string `json:"gameId"`
	Team   string `json:"team"`
}

type UpdateClockRequest struct {
	GameID string `json:"gameId"`
	models.ClockPatch
}

type StatsResponse struct {
	Stats *models.StatRecord `json:"stats"`
}

type Empty struct{}

// ParseGameID validates a game id coming off the wire.
func ParseGameID(s string) (uuid.UUID, error) {
	return parseID("game", s)
}

// ParseActionID validates an action id coming off the wire.
func ParseActionID(s string) (uuid.UUID, error) {
	return parseID("action", s)
}

func parseID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s id %q", models.ErrInvalidArgument, kind, s)
	}
	return id, nil
}

// ToNewAction converts the wire form into an App request.
func (r AddActionRequest) ToNewAction() (NewAction, error) {
	team, err := models.ParseTeam(r.Team)
	if err != nil {
		return NewAction{}, err
	}
	typ, err := models.ParseActionType(r.Type)
	if err != nil {
		return NewAction{}, err
	}
	return NewAction{Team: team, Type: typ, PlayerNo: r.PlayerNo, Penalty: r.Penalty}, nil
}
