// Package events defines the messages pushed to room subscribers. It is shared
// by the engines, which publish, and the gateway, which delivers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

// EventType is the name clients switch on.
type EventType string

const (
	EventStatUpdated           EventType = "statUpdated"
	EventScoreUpdated          EventType = "scoreUpdated"
	EventGoalAdded             EventType = "goalAdded"
	EventPenaltyAdded          EventType = "penaltyAdded"
	EventPenaltyRemoved        EventType = "penaltyRemoved"
	EventActionAdded           EventType = "actionAdded"
	EventClockUpdated          EventType = "clockUpdated"
	EventGameReset             EventType = "gameReset"
	EventGameEnded             EventType = "gameEnded"
	EventUniversalClockUpdated EventType = "universalClockUpdated"
	EventUniversalClockState   EventType = "universalClockState"
	EventError                 EventType = "error"
)

// Event is the envelope for everything sent to a room.
type Event struct {
	ID        string          `json:"id"`
	Room      string          `json:"room"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`

	// Version is the store version of the state carried in Data. Zero means
	// the event is not ordered against other events of its room.
	Version int64 `json:"version,omitempty"`
	// Epoch tells apart records that reuse a game id after a delete.
	Epoch int64 `json:"epoch,omitempty"`
}

// Supersedes reports whether e carries state at least as new as an event of
// the same room with the given epoch and version. Equal versions pass so a
// no-op command still reaches its clients.
func (e *Event) Supersedes(epoch, version int64) bool {
	if e.Version == 0 {
		return true
	}
	if e.Epoch != epoch {
		return e.Epoch > epoch
	}
	return e.Version >= version
}

// New marshals payload into an envelope addressed to room.
func New(room string, eventType EventType, payload any, now time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Room:      room,
		Type:      eventType,
		Timestamp: now,
		Data:      data,
	}, nil
}

// ClockPayload accompanies clockUpdated.
type ClockPayload struct {
	GameID  uuid.UUID    `json:"gameId"`
	Clock   models.Clock `json:"clock"`
	Version int64        `json:"version"`
}

// ErrorPayload is sent only to the client whose command failed.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Command   string `json:"command,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// GameRoom is the room of everyone watching a game.
func GameRoom(gameID uuid.UUID) string {
	return gameID.String()
}

// OwnerRoom is the room of everyone following an owner's universal clock.
func OwnerRoom(ownerID uuid.UUID) string {
	return "owner:" + ownerID.String()
}

// ForRecord addresses a full StatRecord snapshot to the game's room.
func ForRecord(eventType EventType, rec *models.StatRecord, now time.Time) (*Event, error) {
	ev, err := New(GameRoom(rec.GameID), eventType, rec, now)
	if err != nil {
		return nil, err
	}
	ev.Version, ev.Epoch = rec.Version, recordEpoch(rec)
	return ev, nil
}

// ForClock addresses a clockUpdated event for rec's clock to the game's room.
func ForClock(rec *models.StatRecord, now time.Time) (*Event, error) {
	payload := ClockPayload{GameID: rec.GameID, Clock: rec.Clock, Version: rec.Version}
	ev, err := New(GameRoom(rec.GameID), EventClockUpdated, payload, now)
	if err != nil {
		return nil, err
	}
	ev.Version, ev.Epoch = rec.Version, recordEpoch(rec)
	return ev, nil
}

// ForUniversal addresses a universal clock snapshot to the owner's room.
func ForUniversal(eventType EventType, uc *models.UniversalClock, now time.Time) (*Event, error) {
	ev, err := New(OwnerRoom(uc.OwnerID), eventType, uc, now)
	if err != nil {
		return nil, err
	}
	ev.Version = uc.Version
	return ev, nil
}

func recordEpoch(rec *models.StatRecord) int64 {
	if rec.CreatedAt.IsZero() {
		return 0
	}
	return rec.CreatedAt.UnixNano()
}

// Publisher fans an event out to every subscriber of ev.Room. Delivery is best
// effort; implementations log failures instead of returning them.
type Publisher interface {
	Publish(ctx context.Context, ev *Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev *Event)

func (f PublisherFunc) Publish(ctx context.Context, ev *Event) { f(ctx, ev) }

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(context.Context, *Event) {})

// Multi publishes to each publisher in order.
func Multi(publishers ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, ev *Event) {
		for _, p := range publishers {
			p.Publish(ctx, ev)
		}
	})
}
