// Package outbound carries connection-status notifications to external
// watchers. Each committed permission event is mapped to one StatusMessage
// and fanned out to every configured sink; the sinks are delivery channels
// only and never own permission state.
package outbound

import (
	"context"
	"time"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// StatusMessage is the outward-facing view of one permission state change.
type StatusMessage struct {
	ConnectionID domain.ConnectionID `json:"connectionId"`
	PermissionID domain.PermissionID `json:"permissionId"`
	DataNeedID   domain.DataNeedID   `json:"dataNeedId"`
	Status       models.Status       `json:"status"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Sink delivers status messages to one external channel.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg StatusMessage) error
	Close() error
}
