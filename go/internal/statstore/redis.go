package statstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	statsKeyPrefix  = "scoreboard:stats:"
	uclockKeyPrefix = "scoreboard:uclock:"

	defaultMaxTxRetries = 16
)

// RedisStore keeps records as JSON strings. Updates are optimistic WATCH/MULTI
// transactions retried when another writer touches the key first.
type RedisStore struct {
	client     *redis.Client
	clock      clockwork.Clock
	maxRetries int
}

// NewRedisStore connects to redisURL (redis://host:port/db).
func NewRedisStore(ctx context.Context, redisURL string, clock clockwork.Clock) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to ping redis: %v", models.ErrStoreUnavailable, err)
	}
	return newRedisStore(client, clock), nil
}

func newRedisStore(client *redis.Client, clock clockwork.Clock) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{client: client, clock: clock, maxRetries: defaultMaxTxRetries}
}

func statsKey(gameID uuid.UUID) string   { return statsKeyPrefix + gameID.String() }
func uclockKey(ownerID uuid.UUID) string { return uclockKeyPrefix + ownerID.String() }

func (s *RedisStore) Create(ctx context.Context, rec *models.StatRecord) (*models.StatRecord, error) {
	stored := rec.Clone()
	if stored.Actions == nil {
		stored.Actions = []models.ActionEvent{}
	}
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stat record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, statsKey(stored.GameID), data, 0).Result()
	if err != nil {
		return nil, mapRedisErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: stats already exist for game %s", models.ErrConflict, stored.GameID)
	}
	return stored, nil
}

func (s *RedisStore) Get(ctx context.Context, gameID uuid.UUID) (*models.StatRecord, error) {
	data, err := s.client.Get(ctx, statsKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
	}
	if err != nil {
		return nil, mapRedisErr(err)
	}
	return decodeRecord(data)
}

func (s *RedisStore) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, false, fn)
}

func (s *RedisStore) Upsert(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) (*models.StatRecord, error) {
	return s.update(ctx, gameID, true, fn)
}

func (s *RedisStore) update(ctx context.Context, gameID uuid.UUID, create bool, fn UpdateFunc) (*models.StatRecord, error) {
	key := statsKey(gameID)
	var out *models.StatRecord

	txf := func(tx *redis.Tx) error {
		var current *models.StatRecord
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if !create {
				return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
			}
			current = models.NewStatRecord(gameID, s.clock.Now())
		case err != nil:
			return err
		default:
			if current, err = decodeRecord(data); err != nil {
				return err
			}
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = current
			}
			return err
		}
		next.GameID = gameID
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock.Now()

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal stat record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrNoChange) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, gameID uuid.UUID) error {
	n, err := s.client.Del(ctx, statsKey(gameID)).Result()
	if err != nil {
		return mapRedisErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no stats for game %s", models.ErrNotFound, gameID)
	}
	return nil
}

func (s *RedisStore) GetUniversal(ctx context.Context, ownerID uuid.UUID) (*models.UniversalClock, error) {
	return s.UpdateUniversal(ctx, ownerID, func(*models.UniversalClock) error { return ErrNoChange })
}

func (s *RedisStore) UpdateUniversal(ctx context.Context, ownerID uuid.UUID, fn ClockUpdateFunc) (*models.UniversalClock, error) {
	key := uclockKey(ownerID)
	var out *models.UniversalClock

	txf := func(tx *redis.Tx) error {
		current := models.NewUniversalClock(ownerID, s.clock.Now())
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, current); err != nil {
				return fmt.Errorf("failed to unmarshal universal clock: %w", err)
			}
		}

		next := *current
		if err := fn(&next); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = current
			}
			return err
		}
		next.OwnerID = ownerID
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock.Now()

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal universal clock: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			out = &next
		}
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrNoChange) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// watch runs txf under WATCH, retrying when the key changed underneath it.
func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("redis transaction contended, retrying")
			continue
		}
		return mapRedisErr(err)
	}
	return fmt.Errorf("%w: too much contention on %s", models.ErrConflict, key)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecord(data []byte) (*models.StatRecord, error) {
	var rec models.StatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stat record: %w", err)
	}
	if rec.Actions == nil {
		rec.Actions = []models.ActionEvent{}
	}
	return &rec, nil
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainErr(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
