package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

func TestTickerSchedulerFiresEveryInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := NewTickerScheduler(fc, time.Second)
	defer s.Stop()

	key := gameKey(uuid.New())
	fired := make(chan struct{}, 10)
	s.Schedule(key, func(Token) { fired <- struct{}{} })

	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not fire", i)
		}
	}
	if !s.Active(key) {
		t.Fatal("expected key to stay scheduled")
	}
}

func TestTickerSchedulerIsIdempotent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := NewTickerScheduler(fc, time.Second)
	defer s.Stop()

	key := universalKey(uuid.New())
	var first, second atomic.Int32
	fired := make(chan struct{}, 10)
	s.Schedule(key, func(Token) { first.Add(1); fired <- struct{}{} })
	s.Schedule(key, func(Token) { second.Add(1); fired <- struct{}{} })

	fc.Advance(time.Second)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not fire")
	}
	if first.Load() != 1 || second.Load() != 0 {
		t.Fatalf("expected only the first callback, got first=%d second=%d", first.Load(), second.Load())
	}
}

func TestTickerSchedulerCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := NewTickerScheduler(fc, time.Second)
	defer s.Stop()

	key := gameKey(uuid.New())
	fired := make(chan struct{}, 10)
	s.Schedule(key, func(Token) { fired <- struct{}{} })
	s.Cancel(key)
	if s.Active(key) {
		t.Fatal("expected key to be cancelled")
	}

	fc.Advance(time.Second)
	select {
	case <-fired:
		t.Fatal("cancelled key fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTickerSchedulerCancelIfHonoursCurrentToken(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := NewTickerScheduler(fc, time.Second)
	defer s.Stop()

	key := gameKey(uuid.New())
	tokens := make(chan Token, 10)
	s.Schedule(key, func(token Token) { tokens <- token })

	next := func() Token {
		t.Helper()
		fc.Advance(time.Second)
		select {
		case token := <-tokens:
			return token
		case <-time.After(2 * time.Second):
			t.Fatal("tick did not fire")
		}
		return 0
	}

	stale := next()
	s.Schedule(key, func(Token) { t.Error("re-schedule replaced the running callback") })
	current := next()
	if current == stale {
		t.Fatalf("expected a new token after re-schedule, got %d twice", current)
	}

	tests := []struct {
		name       string
		token      Token
		wantCancel bool
		wantActive bool
	}{
		{name: "stale token", token: stale, wantCancel: false, wantActive: true},
		{name: "current token", token: current, wantCancel: true, wantActive: false},
		{name: "already cancelled", token: current, wantCancel: false, wantActive: false},
	}
	for _, tt := range tests {
		if got := s.CancelIf(key, tt.token); got != tt.wantCancel {
			t.Fatalf("%s: expected cancel %v, got %v", tt.name, tt.wantCancel, got)
		}
		if got := s.Active(key); got != tt.wantActive {
			t.Fatalf("%s: expected active %v, got %v", tt.name, tt.wantActive, got)
		}
	}
}

func TestTickKeysAreIndependent(t *testing.T) {
	id := uuid.New()
	if gameKey(id) == universalKey(id) {
		t.Fatal("game and universal keys for the same id must differ")
	}
	if gameKey(id).String() == universalKey(id).String() {
		t.Fatal("expected distinct key names")
	}
}

func TestPoolPreservesPerKeyOrder(t *testing.T) {
	p := NewPool(4, 100)
	p.Start(context.Background())

	key := uuid.New()
	var got []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		i := i
		if !p.Submit(key, func(context.Context) {
			got = append(got, i)
			if i == 49 {
				close(done)
			}
		}) {
			t.Fatalf("task %d dropped", i)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not finish")
	}
	p.Stop()

	for i, v := range got {
		if v != i {
			t.Fatalf("expected submission order, got %v", got)
		}
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	key := uuid.New()

	// Not started: the single slot fills and the next task is dropped.
	if !p.Submit(key, func(context.Context) {}) {
		t.Fatal("expected first task queued")
	}
	if p.Submit(key, func(context.Context) {}) {
		t.Fatal("expected second task dropped")
	}

	p.Start(context.Background())
	p.Stop()
	if p.Submit(key, func(context.Context) {}) {
		t.Fatal("expected submit after stop to be rejected")
	}
}
