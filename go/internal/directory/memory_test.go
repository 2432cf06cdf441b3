package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

const fixtureYAML = `
fields:
  - id: 11111111-1111-1111-1111-111111111111
    name: Field 1
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
    clock_synced: true
  - id: 22222222-2222-2222-2222-222222222222
    name: Field 2
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
    clock_synced: false
games:
  - id: 33333333-3333-3333-3333-333333333333
    field_id: 11111111-1111-1111-1111-111111111111
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
  - id: 44444444-4444-4444-4444-444444444444
    field_id: 22222222-2222-2222-2222-222222222222
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
  - id: 55555555-5555-5555-5555-555555555555
    field_id: 11111111-1111-1111-1111-111111111111
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
    ended: true
  - id: 66666666-6666-6666-6666-666666666666
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
`

var (
	owner      = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	syncedGame = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	endedGame  = uuid.MustParse("55555555-5555-5555-5555-555555555555")
)

func loadTestFixture(t *testing.T, body string) (*Memory, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return LoadFixture(path)
}

func TestLoadFixture(t *testing.T) {
	m, err := loadTestFixture(t, fixtureYAML)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}

	g, err := m.GetGame(context.Background(), syncedGame)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if g.FieldID == nil || g.OwnerID != owner {
		t.Fatalf("unexpected game %+v", g)
	}

	if _, err := m.GetGame(context.Background(), uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadFixtureUnknownField(t *testing.T) {
	_, err := loadTestFixture(t, `
games:
  - id: 33333333-3333-3333-3333-333333333333
    field_id: 99999999-9999-9999-9999-999999999999
    owner_id: aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa
`)
	if err == nil {
		t.Fatal("expected error for a game on an unknown field")
	}
}

func TestSyncedGames(t *testing.T) {
	m, err := loadTestFixture(t, fixtureYAML)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name  string
		owner uuid.UUID
		want  []uuid.UUID
	}{
		{name: "owner with a synced field", owner: owner, want: []uuid.UUID{syncedGame}},
		{name: "unknown owner", owner: uuid.New(), want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.SyncedGames(ctx, tt.owner)
			if err != nil {
				t.Fatalf("synced games: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestSetEnded(t *testing.T) {
	m, err := loadTestFixture(t, fixtureYAML)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	ctx := context.Background()

	if err := m.SetEnded(ctx, syncedGame, true); err != nil {
		t.Fatalf("set ended: %v", err)
	}
	got, _ := m.SyncedGames(ctx, owner)
	if len(got) != 0 {
		t.Fatalf("expected ended games to leave the fan-out, got %v", got)
	}

	if err := m.SetEnded(ctx, endedGame, false); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ = m.SyncedGames(ctx, owner)
	if len(got) != 1 || got[0] != endedGame {
		t.Fatalf("expected reopened game in the fan-out, got %v", got)
	}

	if err := m.SetEnded(ctx, uuid.New(), true); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
