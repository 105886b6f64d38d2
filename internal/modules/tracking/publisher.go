package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"foodtrack/internal/types"
)

const channelPrefix = "tracking:order:"

func Channel(orderID types.ID) string {
	return channelPrefix + string(orderID)
}

// RedisPublisher publishes snapshots as JSON on a per-order Pub/Sub channel
// for consumers outside this process.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return p.redis.Publish(ctx, Channel(snap.OrderID), payload).Err()
}
