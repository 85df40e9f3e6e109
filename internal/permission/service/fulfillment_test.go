package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridward/internal/permission/models"
)

func acceptedRequest(f *fixture, t *testing.T) *models.PermissionRequest {
	t.Helper()
	id, err := f.svc.Create(context.Background(), CreateRequest{
		ConnectionID:    "conn-1",
		DataNeedID:      "daily-1y",
		MeteringPointID: "mp-1",
	})
	require.NoError(t, err)
	f.svc.Send(context.Background(), id)
	require.NoError(t, f.svc.Accept(context.Background(), id, "consent-1"))

	req, err := f.repo.FindByPermissionID(context.Background(), id)
	require.NoError(t, err)
	return req
}

func TestTryFulfill(t *testing.T) {
	end := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	t.Run("coverage reaching the end fulfills", func(t *testing.T) {
		f := newFixture()
		fulfillment := NewFulfillment(f.outbox, testLogger())
		req := acceptedRequest(f, t)

		assert.False(t, fulfillment.TryFulfill(context.Background(), req, req.End.AddDate(0, 0, -1)))

		fulfilled := fulfillment.TryFulfill(context.Background(), req.Clone(), *req.End)
		assert.True(t, fulfilled, "end-inclusive coverage counts")

		saved, err := f.repo.FindByPermissionID(context.Background(), req.PermissionID)
		require.NoError(t, err)
		// Fulfillment also queues the administrator-side close-out.
		assert.Equal(t, models.StatusRequiresExternalTermination, saved.Status)
	})

	t.Run("repeated invocation commits exactly one FULFILLED event", func(t *testing.T) {
		f := newFixture()
		fulfillment := NewFulfillment(f.outbox, testLogger())
		req := acceptedRequest(f, t)

		assert.True(t, fulfillment.TryFulfill(context.Background(), req.Clone(), *req.End))
		assert.True(t, fulfillment.TryFulfill(context.Background(), req.Clone(), req.End.AddDate(0, 0, 5)))
		assert.True(t, fulfillment.TryFulfill(context.Background(), req.Clone(), req.End.AddDate(0, 0, 10)))

		history, err := f.log.Events(context.Background(), req.PermissionID)
		require.NoError(t, err)
		fulfilledEvents := 0
		for _, event := range history {
			if event.Status == models.StatusFulfilled {
				fulfilledEvents++
			}
		}
		assert.Equal(t, 1, fulfilledEvents)
	})

	t.Run("open-ended request never auto-fulfills", func(t *testing.T) {
		f := newFixture()
		fulfillment := NewFulfillment(f.outbox, testLogger())
		req := acceptedRequest(f, t)
		req.End = nil

		assert.False(t, fulfillment.TryFulfill(context.Background(), req, end.AddDate(10, 0, 0)))
	})

	t.Run("non-accepted request is left alone", func(t *testing.T) {
		f := newFixture()
		fulfillment := NewFulfillment(f.outbox, testLogger())
		req := acceptedRequest(f, t)
		req.Status = models.StatusRevoked

		assert.False(t, fulfillment.TryFulfill(context.Background(), req, *req.End))
	})

	t.Run("already fulfilled request reports true without committing", func(t *testing.T) {
		f := newFixture()
		fulfillment := NewFulfillment(f.outbox, testLogger())
		req := acceptedRequest(f, t)
		req.Status = models.StatusFulfilled

		assert.True(t, fulfillment.TryFulfill(context.Background(), req, *req.End))
		history, err := f.log.Events(context.Background(), req.PermissionID)
		require.NoError(t, err)
		for _, event := range history {
			assert.NotEqual(t, models.StatusFulfilled, event.Status)
		}
	})
}
