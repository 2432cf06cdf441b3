package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML layout accepted by LoadFixture.
type Fixture struct {
	Fields []models.Field   `yaml:"fields"`
	Games  []models.GameRef `yaml:"games"`
}

// Memory is an in-process directory, typically seeded from a fixture file.
type Memory struct {
	mu     sync.RWMutex
	games  map[uuid.UUID]models.GameRef
	fields map[uuid.UUID]models.Field
}

func NewMemory() *Memory {
	return &Memory{
		games:  make(map[uuid.UUID]models.GameRef),
		fields: make(map[uuid.UUID]models.Field),
	}
}

// LoadFixture reads a YAML fixture from path into a new Memory directory.
func LoadFixture(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory fixture: %w", err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse directory fixture: %w", err)
	}

	m := NewMemory()
	for _, f := range fx.Fields {
		m.PutField(f)
	}
	for _, g := range fx.Games {
		if g.FieldID != nil {
			if _, ok := m.fields[*g.FieldID]; !ok {
				return nil, fmt.Errorf("game %s references unknown field %s", g.ID, g.FieldID)
			}
		}
		m.PutGame(g)
	}

	log.Info().
		Str("path", path).
		Int("fields", len(fx.Fields)).
		Int("games", len(fx.Games)).
		Msg("directory fixture loaded")
	return m, nil
}

// PutGame adds or replaces a game.
func (m *Memory) PutGame(g models.GameRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
}

// PutField adds or replaces a field.
func (m *Memory) PutField(f models.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[f.ID] = f
}

func (m *Memory) GetGame(_ context.Context, gameID uuid.UUID) (*models.GameRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: game %s", models.ErrNotFound, gameID)
	}
	return &g, nil
}

func (m *Memory) SetEnded(_ context.Context, gameID uuid.UUID, ended bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return fmt.Errorf("%w: game %s", models.ErrNotFound, gameID)
	}
	g.Ended = ended
	m.games[gameID] = g
	return nil
}

func (m *Memory) SyncedGames(_ context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []uuid.UUID
	for _, g := range m.games {
		if g.Ended || g.FieldID == nil {
			continue
		}
		f, ok := m.fields[*g.FieldID]
		if !ok || !f.ClockSynced || f.OwnerID != ownerID {
			continue
		}
		out = append(out, g.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
