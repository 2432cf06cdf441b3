package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Team identifies one side of a game.
type Team string

const (
	TeamHome Team = "home"
	TeamAway Team = "away"
)

// ParseTeam validates a team name coming off the wire.
func ParseTeam(s string) (Team, error) {
	switch Team(s) {
	case TeamHome, TeamAway:
		return Team(s), nil
	}
	return "", fmt.Errorf("%w: unknown team %q", ErrInvalidArgument, s)
}

// ActionType is the closed set of play-by-play actions a scorekeeper can record.
type ActionType string

const (
	ActionShotOn     ActionType = "shot_on"
	ActionShotOff    ActionType = "shot_off"
	ActionSave       ActionType = "save"
	ActionGroundBall ActionType = "ground_ball"
	ActionDrawWon    ActionType = "draw_w"
	ActionDrawLost   ActionType = "draw_l"
	ActionTOForced   ActionType = "to_f"
	ActionTOUnforced ActionType = "to_u"
	ActionGoal       ActionType = "goal"
	ActionPenalty    ActionType = "penalty"
)

// ActionTypes lists every action type in display order.
var ActionTypes = []ActionType{
	ActionShotOn,
	ActionShotOff,
	ActionSave,
	ActionGroundBall,
	ActionDrawWon,
	ActionDrawLost,
	ActionTOForced,
	ActionTOUnforced,
	ActionGoal,
	ActionPenalty,
}

// ParseActionType validates an action type coming off the wire.
func ParseActionType(s string) (ActionType, error) {
	for _, t := range ActionTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action type %q", ErrInvalidArgument, s)
}

// PenaltyType distinguishes releasable from non-releasable penalties.
type PenaltyType string

const (
	PenaltyReleasable    PenaltyType = "releasable"
	PenaltyNonReleasable PenaltyType = "non-releasable"
)

// PenaltyDetails is only present on penalty actions.
type PenaltyDetails struct {
	PenaltyType    PenaltyType `json:"penaltyType"`
	PenaltyMinutes int         `json:"penaltyMinutes"`
	PenaltySeconds int         `json:"penaltySeconds"`
	Infraction     string      `json:"infraction,omitempty"`
}

// Validate checks the penalty fields.
func (p PenaltyDetails) Validate() error {
	switch p.PenaltyType {
	case PenaltyReleasable, PenaltyNonReleasable:
	default:
		return fmt.Errorf("%w: unknown penalty type %q", ErrInvalidArgument, p.PenaltyType)
	}
	if p.PenaltyMinutes < 0 {
		return fmt.Errorf("%w: penalty minutes must be >= 0", ErrInvalidArgument)
	}
	if p.PenaltySeconds < 0 || p.PenaltySeconds > 59 {
		return fmt.Errorf("%w: penalty seconds must be in [0,59]", ErrInvalidArgument)
	}
	return nil
}

// ActionEvent is one entry of a game's play-by-play log. Quarter, Minute and
// Second are a snapshot of the game clock when the action was recorded.
type ActionEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      ActionType      `json:"type"`
	Team      Team            `json:"team"`
	PlayerNo  int             `json:"playerNo"`
	Quarter   int             `json:"quarter"`
	Minute    int             `json:"minute"`
	Second    int             `json:"second"`
	Penalty   *PenaltyDetails `json:"penalty,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Counters holds the per-team aggregate counters derived from the action log.
type Counters struct {
	ShotOn           int `json:"shotOn"`
	ShotOff          int `json:"shotOff"`
	Save             int `json:"save"`
	GroundBall       int `json:"groundBall"`
	DrawW            int `json:"drawW"`
	DrawL            int `json:"drawL"`
	TurnoverForced   int `json:"turnoverForced"`
	TurnoverUnforced int `json:"turnoverUnforced"`
	Goal             int `json:"goal"`
	Penalty          int `json:"penalty"`
}

// TeamStats is the score plus counters for one side.
type TeamStats struct {
	Score int      `json:"score"`
	Stats Counters `json:"stats"`
}

// Clock is a countdown clock. Seconds is always in [0,59].
type Clock struct {
	Quarter int  `json:"quarter"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Running bool `json:"running"`
}

// TotalSeconds returns the remaining time in seconds.
func (c Clock) TotalSeconds() int {
	return c.Minutes*60 + c.Seconds
}

// SetTotalSeconds re-derives minutes and seconds from a total.
func (c *Clock) SetTotalSeconds(total int) {
	if total < 0 {
		total = 0
	}
	c.Minutes = total / 60
	c.Seconds = total % 60
}

// ValidateClockTime checks a manually entered clock value.
func ValidateClockTime(quarter, minutes, seconds int) error {
	if quarter < 0 {
		return fmt.Errorf("%w: quarter must be >= 0", ErrInvalidArgument)
	}
	if minutes < 0 {
		return fmt.Errorf("%w: minutes must be >= 0", ErrInvalidArgument)
	}
	if seconds < 0 || seconds > 59 {
		return fmt.Errorf("%w: seconds must be in [0,59]", ErrInvalidArgument)
	}
	return nil
}

// StatRecord is the authoritative per-game statistics aggregate.
type StatRecord struct {
	GameID    uuid.UUID     `json:"gameId"`
	HomeTeam  TeamStats     `json:"homeTeam"`
	AwayTeam  TeamStats     `json:"awayTeam"`
	Clock     Clock         `json:"clock"`
	Actions   []ActionEvent `json:"actions"`
	Ended     bool          `json:"ended"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewStatRecord returns the empty record created alongside a game.
func NewStatRecord(gameID uuid.UUID, now time.Time) *StatRecord {
	return &StatRecord{
		GameID:    gameID,
		Actions:   []ActionEvent{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TeamStats returns a pointer to the stats block of the given side.
func (r *StatRecord) TeamStats(team Team) *TeamStats {
	if team == TeamAway {
		return &r.AwayTeam
	}
	return &r.HomeTeam
}

// FindAction returns the log index of the action with the given id, or -1.
func (r *StatRecord) FindAction(id uuid.UUID) int {
	for i := range r.Actions {
		if r.Actions[i].ID == id {
			return i
		}
	}
	return -1
}

// LastActionForTeam returns the index of the most recently appended action for
// team, or -1. Log order is the only ordering; CreatedAt is never consulted.
func (r *StatRecord) LastActionForTeam(team Team) int {
	for i := len(r.Actions) - 1; i >= 0; i-- {
		if r.Actions[i].Team == team {
			return i
		}
	}
	return -1
}

// RemoveAction deletes the action at index i and returns it.
func (r *StatRecord) RemoveAction(i int) ActionEvent {
	removed := r.Actions[i]
	r.Actions = append(r.Actions[:i:i], r.Actions[i+1:]...)
	return removed
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *StatRecord) Clone() *StatRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Actions = make([]ActionEvent, len(r.Actions))
	for i, a := range r.Actions {
		if a.Penalty != nil {
			p := *a.Penalty
			a.Penalty = &p
		}
		out.Actions[i] = a
	}
	return &out
}

// ClockPatch is a partial clock update. Nil fields are left unchanged.
type ClockPatch struct {
	Quarter *int  `json:"quarter,omitempty"`
	Minutes *int  `json:"minutes,omitempty"`
	Seconds *int  `json:"seconds,omitempty"`
	Running *bool `json:"running,omitempty"`
}
