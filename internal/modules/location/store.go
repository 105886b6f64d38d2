// README: Latest-position store backed by a Redis hash, plus an in-memory variant.
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"foodtrack/internal/types"
)

const (
	sampleTTL      = 2 * time.Hour
	orderKeyPrefix = "loc:order:"
)

// Store keeps the most recent sample per order. SetLatest reports false when
// the sample is older than the stored one.
type Store interface {
	SetLatest(ctx context.Context, s Sample) (bool, error)
	Latest(ctx context.Context, orderID types.ID) (Sample, error)
	Forget(ctx context.Context, orderID types.ID) error
}

// setLatestScript writes the hash only when the incoming timestamp is not
// older than the stored one.
var setLatestScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'lat', ARGV[2], 'lng', ARGV[3], 'acc', ARGV[4], 'agent', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{redis: rdb}
}

func orderKey(id types.ID) string {
	return orderKeyPrefix + string(id)
}

func (s *RedisStore) SetLatest(ctx context.Context, smp Sample) (bool, error) {
	res, err := setLatestScript.Run(ctx, s.redis,
		[]string{orderKey(smp.OrderID)},
		smp.CapturedAt.UnixMilli(),
		strconv.FormatFloat(smp.Position.Lat, 'f', -1, 64),
		strconv.FormatFloat(smp.Position.Lng, 'f', -1, 64),
		strconv.FormatFloat(smp.AccuracyMeters, 'f', -1, 64),
		string(smp.AgentID),
		sampleTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis set latest %s: %w", smp.OrderID, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Latest(ctx context.Context, orderID types.ID) (Sample, error) {
	vals, err := s.redis.HGetAll(ctx, orderKey(orderID)).Result()
	if err != nil {
		return Sample{}, fmt.Errorf("redis latest %s: %w", orderID, err)
	}
	if len(vals) == 0 {
		return Sample{}, ErrNoSample
	}
	return parseSample(orderID, vals)
}

func (s *RedisStore) Forget(ctx context.Context, orderID types.ID) error {
	if err := s.redis.Del(ctx, orderKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis forget %s: %w", orderID, err)
	}
	return nil
}

func parseSample(orderID types.ID, vals map[string]string) (Sample, error) {
	ts, err1 := strconv.ParseInt(vals["ts"], 10, 64)
	lat, err2 := strconv.ParseFloat(vals["lat"], 64)
	lng, err3 := strconv.ParseFloat(vals["lng"], 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return Sample{}, fmt.Errorf("decode sample %s: %w", orderID, err)
	}
	acc, _ := strconv.ParseFloat(vals["acc"], 64)
	return Sample{
		AgentID:        types.ID(vals["agent"]),
		OrderID:        orderID,
		Position:       types.Point{Lat: lat, Lng: lng},
		AccuracyMeters: acc,
		CapturedAt:     time.UnixMilli(ts).UTC(),
	}, nil
}

// MemoryStore is the single-process Store used by tests and tracksim.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[types.ID]Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[types.ID]Sample)}
}

func (m *MemoryStore) SetLatest(_ context.Context, s Sample) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.samples[s.OrderID]; ok && cur.CapturedAt.After(s.CapturedAt) {
		return false, nil
	}
	m.samples[s.OrderID] = s
	return true, nil
}

func (m *MemoryStore) Latest(_ context.Context, orderID types.ID) (Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[orderID]
	if !ok {
		return Sample{}, ErrNoSample
	}
	return s, nil
}

func (m *MemoryStore) Forget(_ context.Context, orderID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, orderID)
	return nil
}
