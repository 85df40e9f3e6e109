package outbound

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink appends status messages to a Redis Stream. Polling API clients
// read the stream with XREAD to follow connection status.
type RedisSink struct {
	client *redis.Client
	stream string
}

func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Name() string { return "redis-stream" }

func (s *RedisSink) Publish(ctx context.Context, msg StatusMessage) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"connectionId": string(msg.ConnectionID),
			"permissionId": string(msg.PermissionID),
			"dataNeedId":   string(msg.DataNeedID),
			"status":       string(msg.Status),
			"timestamp":    msg.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd status message: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
