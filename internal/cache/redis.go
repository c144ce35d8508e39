// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/draftsync/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) the historian drains draft actions from.
const DefaultQueueName = "draftsync_actions"

// Connect opens a Redis client for addr and db and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes applied draft actions onto the historian queue.
type Publisher struct {
	rdb   *redis.Client
	queue string
}

// NewPublisher returns a publisher for queue, or DefaultQueueName when queue is empty.
func NewPublisher(rdb *redis.Client, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{rdb: rdb, queue: queue}
}

// Queue is the list name records are pushed to.
func (p *Publisher) Queue() string {
	return p.queue
}

// Record serializes the action to JSON, then pushes it to the Redis queue.
func (p *Publisher) Record(ctx context.Context, action models.DraftAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal DraftAction: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}
