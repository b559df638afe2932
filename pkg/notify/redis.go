package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"chatsync/pkg/apperr"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes notifications onto a Redis list consumed by the push
// delivery workers.
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
}

func NewRedisQueue(client redis.UniversalClient, queue string) *RedisQueue {
	if queue == "" {
		queue = "chatsync:notifications"
	}
	return &RedisQueue{client: client, queue: queue}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (q *RedisQueue) Notify(ctx context.Context, userID, eventType string, payload any) error {
	body, err := json.Marshal(newNotification(userID, eventType, payload))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := q.client.RPush(ctx, q.queue, body).Err(); err != nil {
		return apperr.TransientIO("notify.redis", err)
	}
	return nil
}

func (q *RedisQueue) Close() error { return q.client.Close() }
