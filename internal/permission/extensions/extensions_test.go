package extensions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridward/internal/outbound"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
	"gridward/pkg/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotWith(status models.Status) models.PermissionRequest {
	return models.PermissionRequest{
		PermissionID:    "perm-1",
		ConnectionID:    "conn-1",
		DataNeedID:      "need-1",
		MeteringPointID: "mp-1",
		Status:          status,
		StatusChangedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func eventWith(status models.Status, at time.Time) models.PermissionEvent {
	event := models.NewStatusEvent("perm-1", status)
	event.CommittedAt = at
	return event
}

func TestSavingExtensionPersistsSnapshot(t *testing.T) {
	repo := store.NewInMemoryStore()
	ext := NewSavingExtension(repo)

	snapshot := snapshotWith(models.StatusValidated)
	require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusValidated, snapshot.StatusChangedAt)))

	saved, err := repo.FindByPermissionID(context.Background(), "perm-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidated, saved.Status)

	// Duplicate delivery is a plain overwrite.
	require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusValidated, snapshot.StatusChangedAt)))
	again, err := repo.FindByPermissionID(context.Background(), "perm-1")
	require.NoError(t, err)
	assert.Equal(t, saved, again)
}

// collectingSink records published messages; optionally fails.
type collectingSink struct {
	mu       sync.Mutex
	name     string
	messages []outbound.StatusMessage
	fail     bool
}

func (s *collectingSink) Name() string { return s.name }
func (s *collectingSink) Close() error { return nil }

func (s *collectingSink) Publish(_ context.Context, msg outbound.StatusMessage) error {
	if s.fail {
		return errors.New("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func TestMessagingExtension(t *testing.T) {
	t.Run("maps event to status message", func(t *testing.T) {
		sink := &collectingSink{name: "a"}
		ext := NewMessagingExtension(testLogger(), sink)

		at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		snapshot := snapshotWith(models.StatusAccepted)
		require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusAccepted, at)))

		require.Len(t, sink.messages, 1)
		msg := sink.messages[0]
		assert.Equal(t, domain.ConnectionID("conn-1"), msg.ConnectionID)
		assert.Equal(t, domain.PermissionID("perm-1"), msg.PermissionID)
		assert.Equal(t, domain.DataNeedID("need-1"), msg.DataNeedID)
		assert.Equal(t, models.StatusAccepted, msg.Status)
		assert.Equal(t, at, msg.Timestamp)
	})

	t.Run("duplicate delivery is dropped", func(t *testing.T) {
		sink := &collectingSink{name: "a"}
		ext := NewMessagingExtension(testLogger(), sink)

		at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		event := eventWith(models.StatusAccepted, at)
		snapshot := snapshotWith(models.StatusAccepted)
		require.NoError(t, ext.Apply(context.Background(), snapshot, event))
		require.NoError(t, ext.Apply(context.Background(), snapshot, event))

		assert.Len(t, sink.messages, 1)
	})

	t.Run("failing sink does not stop the others", func(t *testing.T) {
		broken := &collectingSink{name: "broken", fail: true}
		healthy := &collectingSink{name: "healthy"}
		ext := NewMessagingExtension(testLogger(), broken, healthy)

		snapshot := snapshotWith(models.StatusRejected)
		require.NoError(t, ext.Apply(context.Background(), snapshot,
			eventWith(models.StatusRejected, snapshot.StatusChangedAt)))

		assert.Len(t, healthy.messages, 1)
	})
}

func TestConsentDocumentExtension(t *testing.T) {
	docs := NewInMemoryDocumentStore()
	ext := NewConsentDocumentExtension(docs)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	t.Run("builds a document on stable statuses", func(t *testing.T) {
		snapshot := snapshotWith(models.StatusAccepted)
		snapshot.ConsentID = "consent-1"
		require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusAccepted, at)))

		doc, ok := docs.Get(context.Background(), "perm-1", models.StatusAccepted)
		require.True(t, ok)
		assert.NotEmpty(t, doc.MRID)
		assert.Equal(t, domain.ConsentID("consent-1"), doc.ConsentID)
		assert.Equal(t, at, doc.CreatedAt)
	})

	t.Run("skips transient statuses", func(t *testing.T) {
		snapshot := snapshotWith(models.StatusValidated)
		require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusValidated, at)))

		_, ok := docs.Get(context.Background(), "perm-1", models.StatusValidated)
		assert.False(t, ok)
	})

	t.Run("duplicate delivery overwrites the same key", func(t *testing.T) {
		snapshot := snapshotWith(models.StatusRevoked)
		require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusRevoked, at)))
		require.NoError(t, ext.Apply(context.Background(), snapshot, eventWith(models.StatusRevoked, at)))

		_, ok := docs.Get(context.Background(), "perm-1", models.StatusRevoked)
		assert.True(t, ok)
	})
}

// stubTransmitter records which permissions were dispatched.
type stubTransmitter struct {
	mu         sync.Mutex
	sent       []domain.PermissionID
	terminated []domain.PermissionID
	done       chan struct{}
}

func (t *stubTransmitter) Send(_ context.Context, id domain.PermissionID) {
	t.mu.Lock()
	t.sent = append(t.sent, id)
	t.mu.Unlock()
	t.done <- struct{}{}
}

func (t *stubTransmitter) ExecuteExternalTermination(_ context.Context, id domain.PermissionID) {
	t.mu.Lock()
	t.terminated = append(t.terminated, id)
	t.mu.Unlock()
	t.done <- struct{}{}
}

func TestTransmissionExtension(t *testing.T) {
	t.Run("dispatches send on VALIDATED", func(t *testing.T) {
		ext := NewTransmissionExtension(testLogger())
		tx := &stubTransmitter{done: make(chan struct{}, 1)}
		ext.Bind(tx)

		snapshot := snapshotWith(models.StatusValidated)
		require.NoError(t, ext.Apply(context.Background(), snapshot,
			eventWith(models.StatusValidated, snapshot.StatusChangedAt)))

		select {
		case <-tx.done:
		case <-time.After(time.Second):
			t.Fatal("transmitter was not invoked")
		}
		assert.Equal(t, []domain.PermissionID{"perm-1"}, tx.sent)
	})

	t.Run("dispatches termination on REQUIRES_EXTERNAL_TERMINATION", func(t *testing.T) {
		ext := NewTransmissionExtension(testLogger())
		tx := &stubTransmitter{done: make(chan struct{}, 1)}
		ext.Bind(tx)

		snapshot := snapshotWith(models.StatusRequiresExternalTermination)
		require.NoError(t, ext.Apply(context.Background(), snapshot,
			eventWith(models.StatusRequiresExternalTermination, snapshot.StatusChangedAt)))

		select {
		case <-tx.done:
		case <-time.After(time.Second):
			t.Fatal("transmitter was not invoked")
		}
		assert.Equal(t, []domain.PermissionID{"perm-1"}, tx.terminated)
	})

	t.Run("unbound extension drops the trigger", func(t *testing.T) {
		ext := NewTransmissionExtension(testLogger())
		snapshot := snapshotWith(models.StatusValidated)
		require.NoError(t, ext.Apply(context.Background(), snapshot,
			eventWith(models.StatusValidated, snapshot.StatusChangedAt)))
	})

	t.Run("other statuses are ignored", func(t *testing.T) {
		ext := NewTransmissionExtension(testLogger())
		tx := &stubTransmitter{done: make(chan struct{}, 1)}
		ext.Bind(tx)

		snapshot := snapshotWith(models.StatusAccepted)
		require.NoError(t, ext.Apply(context.Background(), snapshot,
			eventWith(models.StatusAccepted, snapshot.StatusChangedAt)))

		select {
		case <-tx.done:
			t.Fatal("transmitter must not be invoked for ACCEPTED")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
