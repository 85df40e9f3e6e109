// Package store owns durable PermissionRequest persistence. The Repository
// interface is the only shared mutable resource in the engine; every service
// treats it as a read-then-conditionally-write store per aggregate.
package store

import (
	"context"
	"time"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// Repository looks up and persists permission requests. Implementations
// return sentinel.ErrNotFound (possibly wrapped) when no entity matches a
// single-result lookup; multi-result lookups return empty slices instead.
type Repository interface {
	FindByPermissionID(ctx context.Context, id domain.PermissionID) (*models.PermissionRequest, error)

	// FindByConversationIDOrCMRequestID matches an asynchronous
	// administrator response back to its request by either correlation key.
	FindByConversationIDOrCMRequestID(ctx context.Context, conversationID, cmRequestID string) (*models.PermissionRequest, error)

	FindByStatusIn(ctx context.Context, statuses ...models.Status) ([]*models.PermissionRequest, error)

	// FindStale returns non-terminal requests whose current status is older
	// than the given duration. Callers narrow the result to the statuses
	// they time out.
	FindStale(ctx context.Context, olderThan time.Duration) ([]*models.PermissionRequest, error)

	// FindByMeteringPointAndDate returns requests for the metering point
	// whose coverage window contains the date, regardless of status.
	FindByMeteringPointAndDate(ctx context.Context, meteringPointID domain.MeteringPointID, date time.Time) ([]*models.PermissionRequest, error)

	FindByConsentID(ctx context.Context, consentID domain.ConsentID) (*models.PermissionRequest, error)

	// Save upserts the request snapshot. Re-saving an identical snapshot is
	// a no-op aside from the overwrite.
	Save(ctx context.Context, req *models.PermissionRequest) error
}
