package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
	"gridward/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore().WithClock(func() time.Time { return s.now })
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) save(req *models.PermissionRequest) {
	s.Require().NoError(s.store.Save(context.Background(), req))
}

func (s *InMemoryStoreSuite) request(id string, status models.Status) *models.PermissionRequest {
	return &models.PermissionRequest{
		PermissionID:    domain.PermissionID(id),
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "mp-1",
		Status:          status,
		StatusChangedAt: s.now.Add(-time.Minute),
	}
}

func (s *InMemoryStoreSuite) TestFindByPermissionID() {
	s.Run("returns saved request", func() {
		req := s.request("perm-1", models.StatusCreated)
		s.save(req)

		found, err := s.store.FindByPermissionID(context.Background(), "perm-1")
		s.Require().NoError(err)
		s.Equal(req, found)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.FindByPermissionID(context.Background(), "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned snapshot does not alias the stored one", func() {
		req := s.request("perm-2", models.StatusCreated)
		s.save(req)

		found, err := s.store.FindByPermissionID(context.Background(), "perm-2")
		s.Require().NoError(err)
		found.Status = models.StatusRevoked

		again, err := s.store.FindByPermissionID(context.Background(), "perm-2")
		s.Require().NoError(err)
		s.Equal(models.StatusCreated, again.Status)
	})
}

func (s *InMemoryStoreSuite) TestFindByCorrelation() {
	req := s.request("perm-1", models.StatusSentToPermissionAdministrator)
	req.CMRequestID = "cm-7"
	req.ConversationID = "conv-7"
	s.save(req)

	s.Run("matches by conversation id", func() {
		found, err := s.store.FindByConversationIDOrCMRequestID(context.Background(), "conv-7", "")
		s.Require().NoError(err)
		s.Equal(req.PermissionID, found.PermissionID)
	})

	s.Run("matches by cm request id", func() {
		found, err := s.store.FindByConversationIDOrCMRequestID(context.Background(), "", "cm-7")
		s.Require().NoError(err)
		s.Equal(req.PermissionID, found.PermissionID)
	})

	s.Run("empty keys never match empty fields", func() {
		other := s.request("perm-2", models.StatusCreated)
		s.save(other)
		_, err := s.store.FindByConversationIDOrCMRequestID(context.Background(), "", "")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestFindByStatusIn() {
	s.save(s.request("perm-1", models.StatusUnableToSend))
	s.save(s.request("perm-2", models.StatusFailedToTerminate))
	s.save(s.request("perm-3", models.StatusAccepted))

	found, err := s.store.FindByStatusIn(context.Background(),
		models.StatusUnableToSend, models.StatusFailedToTerminate)
	s.Require().NoError(err)
	s.Len(found, 2)

	none, err := s.store.FindByStatusIn(context.Background(), models.StatusRevoked)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *InMemoryStoreSuite) TestFindStale() {
	fresh := s.request("perm-fresh", models.StatusSentToPermissionAdministrator)
	fresh.StatusChangedAt = s.now.Add(-time.Hour)
	s.save(fresh)

	stale := s.request("perm-stale", models.StatusSentToPermissionAdministrator)
	stale.StatusChangedAt = s.now.Add(-72 * time.Hour)
	s.save(stale)

	terminal := s.request("perm-terminal", models.StatusRejected)
	terminal.StatusChangedAt = s.now.Add(-72 * time.Hour)
	s.save(terminal)

	found, err := s.store.FindStale(context.Background(), 48*time.Hour)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(domain.PermissionID("perm-stale"), found[0].PermissionID)
}

func (s *InMemoryStoreSuite) TestFindByMeteringPointAndDate() {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	covered := s.request("perm-1", models.StatusAccepted)
	covered.Start, covered.End = &start, &end
	s.save(covered)

	otherPoint := s.request("perm-2", models.StatusAccepted)
	otherPoint.MeteringPointID = "mp-other"
	otherPoint.Start, otherPoint.End = &start, &end
	s.save(otherPoint)

	found, err := s.store.FindByMeteringPointAndDate(context.Background(), "mp-1",
		time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(domain.PermissionID("perm-1"), found[0].PermissionID)

	outside, err := s.store.FindByMeteringPointAndDate(context.Background(), "mp-1",
		time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Empty(outside)
}

func (s *InMemoryStoreSuite) TestFindByConsentID() {
	req := s.request("perm-1", models.StatusAccepted)
	req.ConsentID = "consent-3"
	s.save(req)

	found, err := s.store.FindByConsentID(context.Background(), "consent-3")
	s.Require().NoError(err)
	s.Equal(req.PermissionID, found.PermissionID)

	s.Run("empty consent id never matches", func() {
		s.save(s.request("perm-2", models.StatusCreated))
		_, err := s.store.FindByConsentID(context.Background(), "")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestSaveIsUpsert() {
	req := s.request("perm-1", models.StatusCreated)
	s.save(req)

	req.Status = models.StatusValidated
	s.save(req)

	found, err := s.store.FindByPermissionID(context.Background(), "perm-1")
	s.Require().NoError(err)
	s.Equal(models.StatusValidated, found.Status)
}
