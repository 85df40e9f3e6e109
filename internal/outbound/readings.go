package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"gridward/internal/dataapi"
	"gridward/pkg/domain"
)

// ReadingsMessage carries one batch of re-fetched or freshly polled
// consumption readings to the requesting party.
type ReadingsMessage struct {
	PermissionID domain.PermissionID `json:"permissionId"`
	Readings     []dataapi.Reading   `json:"readings"`
	Timestamp    time.Time           `json:"timestamp"`
}

// RedisReadingsEmitter appends reading batches to a Redis Stream, one entry
// per batch with the batch encoded as JSON.
type RedisReadingsEmitter struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisReadingsEmitter(client *redis.Client, stream string, logger *slog.Logger) *RedisReadingsEmitter {
	return &RedisReadingsEmitter{client: client, stream: stream, logger: logger}
}

func (e *RedisReadingsEmitter) EmitReadings(ctx context.Context, permissionID domain.PermissionID, series dataapi.Series) error {
	msg := ReadingsMessage{
		PermissionID: permissionID,
		Readings:     series.Readings,
		Timestamp:    time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode readings message: %w", err)
	}
	err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]any{
			"permissionId": string(permissionID),
			"payload":      payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd readings message: %w", err)
	}
	e.logger.DebugContext(ctx, "emitted readings batch",
		"permission_id", permissionID,
		"readings", len(series.Readings),
	)
	return nil
}
