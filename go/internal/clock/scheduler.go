package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TickKey identifies one ticking clock. Game clocks and universal clocks live
// in separate keyspaces.
type TickKey struct {
	Universal bool
	ID        uuid.UUID
}

func gameKey(gameID uuid.UUID) TickKey      { return TickKey{ID: gameID} }
func universalKey(ownerID uuid.UUID) TickKey { return TickKey{Universal: true, ID: ownerID} }

func (k TickKey) String() string {
	if k.Universal {
		return fmt.Sprintf("universal:%s", k.ID)
	}
	return fmt.Sprintf("game:%s", k.ID)
}

// Token identifies one scheduling of a key. Every Schedule call issues a new
// token, including calls on a key that is already ticking.
type Token uint64

// Scheduler runs a callback once per interval for every scheduled key.
type Scheduler interface {
	// Schedule starts ticking key. If key is already scheduled the running
	// callback is kept and only the token advances. fn receives the token
	// current when the tick fires.
	Schedule(key TickKey, fn func(Token))
	// Cancel stops ticking key. A callback already running finishes.
	Cancel(key TickKey)
	// CancelIf stops ticking key only while token is still current, and
	// reports whether it did.
	CancelIf(key TickKey, token Token) bool
	Active(key TickKey) bool
	// Stop cancels every key.
	Stop()
}

type tickerEntry struct {
	ticker clockwork.Ticker
	done   chan struct{}
	token  Token // guarded by TickerScheduler.mu
}

// TickerScheduler backs each key with its own clockwork ticker and goroutine,
// so callbacks for one key never overlap and different keys tick independently.
type TickerScheduler struct {
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	entries   map[TickKey]*tickerEntry
	lastToken Token
}

// NewTickerScheduler creates a scheduler ticking every interval.
func NewTickerScheduler(clock clockwork.Clock, interval time.Duration) *TickerScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TickerScheduler{
		clock:    clock,
		interval: interval,
		entries:  make(map[TickKey]*tickerEntry),
	}
}

func (s *TickerScheduler) Schedule(key TickKey, fn func(Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastToken++
	if entry, exists := s.entries[key]; exists {
		entry.token = s.lastToken
		return
	}
	entry := &tickerEntry{
		ticker: s.clock.NewTicker(s.interval),
		done:   make(chan struct{}),
		token:  s.lastToken,
	}
	s.entries[key] = entry

	go func() {
		for {
			select {
			case <-entry.done:
				return
			case <-entry.ticker.Chan():
				// Cancel may have raced the tick.
				select {
				case <-entry.done:
					return
				default:
				}
				s.mu.Lock()
				token := entry.token
				s.mu.Unlock()
				fn(token)
			}
		}
	}()

	log.Debug().Str("key", key.String()).Dur("interval", s.interval).Msg("clock ticker scheduled")
}

func (s *TickerScheduler) Cancel(key TickKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.entries[key]; exists {
		stopEntry(entry)
		delete(s.entries, key)
		log.Debug().Str("key", key.String()).Msg("clock ticker cancelled")
	}
}

func (s *TickerScheduler) CancelIf(key TickKey, token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[key]
	if !exists || entry.token != token {
		return false
	}
	stopEntry(entry)
	delete(s.entries, key)
	log.Debug().Str("key", key.String()).Uint64("token", uint64(token)).Msg("clock ticker cancelled")
	return true
}

func (s *TickerScheduler) Active(key TickKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.entries[key]
	return exists
}

func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		stopEntry(entry)
		log.Debug().Str("key", key.String()).Msg("cancelled ticker on shutdown")
	}
	s.entries = make(map[TickKey]*tickerEntry)
}

func stopEntry(entry *tickerEntry) {
	entry.ticker.Stop()
	close(entry.done)
}
