package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridward/internal/administrator"
	"gridward/internal/permission/models"
)

func TestRetryTick(t *testing.T) {
	t.Run("UNABLE_TO_SEND goes back to VALIDATED", func(t *testing.T) {
		f := newFixture()
		retry := NewRetry(f.repo, f.outbox, testLogger())

		id, err := f.svc.Create(context.Background(), CreateRequest{
			ConnectionID: "conn-1", DataNeedID: "daily-1y", MeteringPointID: "mp-1",
		})
		require.NoError(t, err)
		f.admin.sendErr = &administrator.APIError{StatusCode: 503, Message: "down"}
		f.svc.Send(context.Background(), id)

		require.NoError(t, retry.Tick(context.Background()))

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusValidated, req.Status)
	})

	t.Run("FAILED_TO_TERMINATE goes back to REQUIRES_EXTERNAL_TERMINATION", func(t *testing.T) {
		f := newFixture()
		retry := NewRetry(f.repo, f.outbox, testLogger())

		id, err := f.svc.Create(context.Background(), CreateRequest{
			ConnectionID: "conn-1", DataNeedID: "daily-1y", MeteringPointID: "mp-1",
		})
		require.NoError(t, err)
		f.svc.Send(context.Background(), id)
		require.NoError(t, f.svc.Accept(context.Background(), id, "consent-1"))
		require.NoError(t, f.svc.Terminate(context.Background(), id))
		f.admin.terminateErr = &administrator.APIError{StatusCode: 500, Message: "down"}
		f.svc.ExecuteExternalTermination(context.Background(), id)

		require.NoError(t, retry.Tick(context.Background()))

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRequiresExternalTermination, req.Status)
	})

	t.Run("requests in other states are untouched", func(t *testing.T) {
		f := newFixture()
		retry := NewRetry(f.repo, f.outbox, testLogger())

		id, err := f.svc.Create(context.Background(), CreateRequest{
			ConnectionID: "conn-1", DataNeedID: "daily-1y", MeteringPointID: "mp-1",
		})
		require.NoError(t, err)
		f.svc.Send(context.Background(), id)
		require.NoError(t, f.svc.Accept(context.Background(), id, "consent-1"))

		history, err := f.log.Events(context.Background(), id)
		require.NoError(t, err)
		before := len(history)

		require.NoError(t, retry.Tick(context.Background()))

		history, err = f.log.Events(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, before, len(history), "no event may be committed")

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, req.Status)
	})
}
