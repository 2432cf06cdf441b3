package models

import (
	"time"

	"github.com/google/uuid"
)

// UniversalClock is a clock owned by a user that can drive the clocks of every
// game played on that user's clock-synced fields.
type UniversalClock struct {
	OwnerID   uuid.UUID `json:"ownerId"`
	Quarter   int       `json:"quarter"`
	Minutes   int       `json:"minutes"`
	Seconds   int       `json:"seconds"`
	Running   bool      `json:"running"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUniversalClock returns the default clock used on first reference to an owner.
func NewUniversalClock(ownerID uuid.UUID, now time.Time) *UniversalClock {
	return &UniversalClock{OwnerID: ownerID, UpdatedAt: now}
}

// Clock returns the clock portion, suitable for pushing into a game.
func (u *UniversalClock) Clock() Clock {
	return Clock{
		Quarter: u.Quarter,
		Minutes: u.Minutes,
		Seconds: u.Seconds,
		Running: u.Running,
	}
}

// SetClock copies a clock value into the universal clock.
func (u *UniversalClock) SetClock(c Clock) {
	u.Quarter = c.Quarter
	u.Minutes = c.Minutes
	u.Seconds = c.Seconds
	u.Running = c.Running
}
