package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

func acceptedWithConsent(t *testing.T, f *fixture, consentID domain.ConsentID) domain.PermissionID {
	t.Helper()
	id, err := f.svc.Create(context.Background(), CreateRequest{
		ConnectionID: "conn-1", DataNeedID: "daily-1y", MeteringPointID: "mp-1",
	})
	require.NoError(t, err)
	f.svc.Send(context.Background(), id)
	require.NoError(t, f.svc.Accept(context.Background(), id, consentID))
	return id
}

func TestRevocationHandle(t *testing.T) {
	t.Run("consent id match revokes an accepted request", func(t *testing.T) {
		f := newFixture()
		revocation := NewRevocation(f.repo, f.outbox, testLogger())
		id := acceptedWithConsent(t, f, "consent-1")

		revocation.Handle(context.Background(), RevocationSignal{ConsentID: "consent-1"})

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRevoked, req.Status)
	})

	t.Run("metering point fallback matches by window", func(t *testing.T) {
		f := newFixture()
		revocation := NewRevocation(f.repo, f.outbox, testLogger())
		id := acceptedWithConsent(t, f, "consent-1")

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)

		revocation.Handle(context.Background(), RevocationSignal{
			ConsentID:       "unknown-consent",
			MeteringPointID: "mp-1",
			EffectiveDate:   *req.End,
		})

		req, err = f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRevoked, req.Status)
	})

	t.Run("fulfilled request is closed out via external termination", func(t *testing.T) {
		f := newFixture()
		revocation := NewRevocation(f.repo, f.outbox, testLogger())
		id := acceptedWithConsent(t, f, "consent-1")
		require.NoError(t, f.outbox.Commit(context.Background(),
			models.NewStatusEvent(id, models.StatusFulfilled)))

		revocation.Handle(context.Background(), RevocationSignal{ConsentID: "consent-1"})

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRequiresExternalTermination, req.Status)
	})

	t.Run("signal matching nothing commits nothing", func(t *testing.T) {
		f := newFixture()
		revocation := NewRevocation(f.repo, f.outbox, testLogger())
		id := acceptedWithConsent(t, f, "consent-1")

		revocation.Handle(context.Background(), RevocationSignal{
			ConsentID:       "unknown-consent",
			MeteringPointID: "mp-elsewhere",
			EffectiveDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		})

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, req.Status)
	})

	t.Run("signal for an inactive request is ignored", func(t *testing.T) {
		f := newFixture()
		revocation := NewRevocation(f.repo, f.outbox, testLogger())
		id := acceptedWithConsent(t, f, "consent-1")
		require.NoError(t, f.outbox.Commit(context.Background(),
			models.NewStatusEvent(id, models.StatusRevoked)))

		revocation.Handle(context.Background(), RevocationSignal{ConsentID: "consent-1"})

		req, err := f.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRevoked, req.Status)
	})
}

func TestRevocationRun(t *testing.T) {
	f := newFixture()
	revocation := NewRevocation(f.repo, f.outbox, testLogger())
	id := acceptedWithConsent(t, f, "consent-1")

	signals := make(chan RevocationSignal)
	done := make(chan struct{})
	go func() {
		revocation.Run(context.Background(), signals)
		close(done)
	}()

	signals <- RevocationSignal{ConsentID: "consent-1"}
	close(signals)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}

	req, err := f.repo.FindByPermissionID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, req.Status)
}
