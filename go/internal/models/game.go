package models

import "github.com/google/uuid"

// GameRef is the slice of a game the statistics engine needs from the game directory.
type GameRef struct {
	ID      uuid.UUID  `json:"id" yaml:"id"`
	FieldID *uuid.UUID `json:"fieldId,omitempty" yaml:"field_id"`
	OwnerID uuid.UUID  `json:"ownerId" yaml:"owner_id"`
	Ended   bool       `json:"ended" yaml:"ended"`
}

// Field is a playing field. Games on a ClockSynced field follow the owner's universal clock.
type Field struct {
	ID          uuid.UUID `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	OwnerID     uuid.UUID `json:"ownerId" yaml:"owner_id"`
	ClockSynced bool      `json:"clockSynced" yaml:"clock_synced"`
}
