// Package stats applies and reverses the effect of single actions on a team's
// aggregate counters. Everything here is pure; callers own persistence.
package stats

import (
	"fmt"

	"github.com/mcdev12/scoreboard/go/internal/models"
)

// StatKey names one aggregate counter. The values match the JSON keys of models.Counters.
type StatKey string

const (
	StatShotOn           StatKey = "shotOn"
	StatShotOff          StatKey = "shotOff"
	StatSave             StatKey = "save"
	StatGroundBall       StatKey = "groundBall"
	StatDrawW            StatKey = "drawW"
	StatDrawL            StatKey = "drawL"
	StatTurnoverForced   StatKey = "turnoverForced"
	StatTurnoverUnforced StatKey = "turnoverUnforced"
	StatGoal             StatKey = "goal"
	StatPenalty          StatKey = "penalty"
)

type effect struct {
	key          StatKey
	affectsScore bool
}

// effects is the full mapping from action type to the counter it drives.
var effects = map[models.ActionType]effect{
	models.ActionShotOn:     {key: StatShotOn},
	models.ActionShotOff:    {key: StatShotOff},
	models.ActionSave:       {key: StatSave},
	models.ActionGroundBall: {key: StatGroundBall},
	models.ActionDrawWon:    {key: StatDrawW},
	models.ActionDrawLost:   {key: StatDrawL},
	models.ActionTOForced:   {key: StatTurnoverForced},
	models.ActionTOUnforced: {key: StatTurnoverUnforced},
	models.ActionGoal:       {key: StatGoal, affectsScore: true},
	models.ActionPenalty:    {key: StatPenalty},
}

// KeyFor returns the counter driven by an action type.
func KeyFor(t models.ActionType) (StatKey, bool) {
	e, ok := effects[t]
	return e.key, ok
}

// ParseStatKey validates a counter name coming off the wire.
func ParseStatKey(s string) (StatKey, error) {
	for _, e := range effects {
		if string(e.key) == s {
			return e.key, nil
		}
	}
	return "", fmt.Errorf("%w: unknown stat %q", models.ErrInvalidArgument, s)
}

// Counter returns a pointer to the named counter inside c.
func Counter(c *models.Counters, key StatKey) *int {
	switch key {
	case StatShotOn:
		return &c.ShotOn
	case StatShotOff:
		return &c.ShotOff
	case StatSave:
		return &c.Save
	case StatGroundBall:
		return &c.GroundBall
	case StatDrawW:
		return &c.DrawW
	case StatDrawL:
		return &c.DrawL
	case StatTurnoverForced:
		return &c.TurnoverForced
	case StatTurnoverUnforced:
		return &c.TurnoverUnforced
	case StatGoal:
		return &c.Goal
	case StatPenalty:
		return &c.Penalty
	}
	return nil
}

// ApplyAction returns ts with the counter for t incremented. Goals also add to the score.
func ApplyAction(ts models.TeamStats, t models.ActionType) models.TeamStats {
	e, ok := effects[t]
	if !ok {
		return ts
	}
	*Counter(&ts.Stats, e.key)++
	if e.affectsScore {
		ts.Score++
	}
	return ts
}

// ReverseAction is the inverse of ApplyAction. Counters and score never go below zero.
func ReverseAction(ts models.TeamStats, t models.ActionType) models.TeamStats {
	e, ok := effects[t]
	if !ok {
		return ts
	}
	decrement(Counter(&ts.Stats, e.key))
	if e.affectsScore {
		decrement(&ts.Score)
	}
	return ts
}

func decrement(v *int) {
	if *v > 0 {
		*v--
	}
}

// Recount rebuilds both teams' aggregates from an action log.
func Recount(actions []models.ActionEvent) (home, away models.TeamStats) {
	for _, a := range actions {
		if a.Team == models.TeamAway {
			away = ApplyAction(away, a.Type)
		} else {
			home = ApplyAction(home, a.Type)
		}
	}
	return home, away
}
