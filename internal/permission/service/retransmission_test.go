package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridward/internal/dataapi"
	"gridward/pkg/domain"
)

// blockingData parks every fetch until released, to keep retransmissions
// pending on demand.
type blockingData struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingData() *blockingData {
	return &blockingData{
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (b *blockingData) Fetch(context.Context, dataapi.Request) (dataapi.Series, error) {
	b.started <- struct{}{}
	<-b.release
	return dataapi.Series{}, nil
}

type retransmissionFixture struct {
	*fixture
	data    *fakeData
	emitter *fakeEmitter
	svc     *Retransmission
}

func newRetransmissionFixture(t *testing.T) *retransmissionFixture {
	t.Helper()
	f := newFixture()
	rf := &retransmissionFixture{
		fixture: f,
		data:    &fakeData{},
		emitter: &fakeEmitter{},
	}
	rf.svc = NewRetransmission(f.repo, testNeeds(), rf.data, rf.emitter, testLogger()).
		WithClock(func() time.Time { return f.now })
	return rf
}

func (rf *retransmissionFixture) accepted(t *testing.T) domain.PermissionID {
	t.Helper()
	return acceptedWithConsent(t, rf.fixture, "consent-1")
}

func (rf *retransmissionFixture) request(t *testing.T, id domain.PermissionID, from, to time.Time) RetransmissionResult {
	t.Helper()
	select {
	case result := <-rf.svc.Request(context.Background(), id, from, to):
		return result
	case <-time.After(time.Second):
		t.Fatal("retransmission did not resolve")
		return nil
	}
}

func TestRetransmissionValidation(t *testing.T) {
	day := 24 * time.Hour

	t.Run("unknown permission id", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		result := rf.request(t, "ghost", rf.now.Add(-10*day), rf.now.Add(-5*day))
		assert.IsType(t, PermissionRequestNotFound{}, result)
	})

	t.Run("inactive permission", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id, err := rf.fixture.svc.Create(context.Background(), CreateRequest{
			ConnectionID: "conn-1", DataNeedID: "daily-1y", MeteringPointID: "mp-1",
		})
		require.NoError(t, err)
		rf.fixture.svc.Send(context.Background(), id)

		result := rf.request(t, id, rf.now.Add(-10*day), rf.now.Add(-5*day))
		require.IsType(t, NoActivePermission{}, result)
		assert.Equal(t, "NO_ACTIVE_PERMISSION", result.Outcome())
	})

	t.Run("master data need has nothing to retransmit", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id, err := rf.fixture.svc.Create(context.Background(), CreateRequest{
			ConnectionID: "conn-1", DataNeedID: "master-data", MeteringPointID: "mp-1",
		})
		require.NoError(t, err)
		rf.fixture.svc.Send(context.Background(), id)
		require.NoError(t, rf.fixture.svc.Accept(context.Background(), id, "consent-2"))

		result := rf.request(t, id, rf.now.Add(-10*day), rf.now.Add(-5*day))
		assert.IsType(t, RetransmissionNotSupported{}, result)
	})

	t.Run("window before permission start", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id := rf.accepted(t)
		req, err := rf.repo.FindByPermissionID(context.Background(), id)
		require.NoError(t, err)

		result := rf.request(t, id, req.Start.AddDate(0, 0, -1), req.Start.AddDate(0, 0, 5))
		assert.IsType(t, NoPermissionForTimeFrame{}, result)
	})

	t.Run("window ending today is not finalized yet", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id := rf.accepted(t)
		today := rf.now.Truncate(24 * time.Hour)

		result := rf.request(t, id, today.AddDate(0, 0, -5), today)
		assert.IsType(t, RetransmissionNotSupported{}, result)
	})
}

func TestRetransmissionFetch(t *testing.T) {
	window := func(rf *retransmissionFixture) (time.Time, time.Time) {
		today := rf.now.Truncate(24 * time.Hour)
		return today.AddDate(0, 0, -10), today.AddDate(0, 0, -1)
	}

	t.Run("fetched data is emitted and reported", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id := rf.accepted(t)
		from, to := window(rf)
		rf.data.series = dataapi.Series{Readings: []dataapi.Reading{
			{At: from, KWH: 1.5},
			{At: to, KWH: 2.5},
		}}

		result := rf.request(t, id, from, to)
		success, ok := result.(RetransmissionSuccess)
		require.True(t, ok, "got %T", result)
		assert.Equal(t, 2, success.Readings)
		assert.Len(t, rf.emitter.batches, 1)

		require.Len(t, rf.data.fetches, 1)
		assert.Equal(t, from, rf.data.fetches[0].From)
		assert.Equal(t, to, rf.data.fetches[0].To)
	})

	t.Run("empty result reports DATA_NOT_AVAILABLE", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id := rf.accepted(t)
		from, to := window(rf)

		result := rf.request(t, id, from, to)
		assert.IsType(t, DataNotAvailable{}, result)
		assert.Empty(t, rf.emitter.batches)
	})

	t.Run("fetch error reports FAILURE", func(t *testing.T) {
		rf := newRetransmissionFixture(t)
		id := rf.accepted(t)
		from, to := window(rf)
		rf.data.err = &dataapi.APIError{StatusCode: 500, Message: "down"}

		result := rf.request(t, id, from, to)
		failure, ok := result.(RetransmissionFailure)
		require.True(t, ok, "got %T", result)
		assert.Contains(t, failure.Message, "500")
	})
}

func TestRetransmissionShutdown(t *testing.T) {
	rf := newRetransmissionFixture(t)
	data := newBlockingData()
	rf.svc = NewRetransmission(rf.repo, testNeeds(), data, rf.emitter, testLogger()).
		WithClock(func() time.Time { return rf.now })

	id := rf.accepted(t)
	today := rf.now.Truncate(24 * time.Hour)
	from, to := today.AddDate(0, 0, -10), today.AddDate(0, 0, -1)

	const pending = 5
	channels := make([]<-chan RetransmissionResult, pending)
	for i := range channels {
		channels[i] = rf.svc.Request(context.Background(), id, from, to)
	}
	for range channels {
		select {
		case <-data.started:
		case <-time.After(time.Second):
			t.Fatal("fetch did not start")
		}
	}

	rf.svc.Close()

	for _, results := range channels {
		select {
		case result, ok := <-results:
			require.True(t, ok)
			failure, isFailure := result.(RetransmissionFailure)
			require.True(t, isFailure, "got %T", result)
			assert.Equal(t, "shutting down", failure.Message)
		case <-time.After(time.Second):
			t.Fatal("pending retransmission was not force-completed")
		}
		// Exactly one result per request; the channel is closed afterwards.
		_, open := <-results
		assert.False(t, open)
	}

	t.Run("requests after close fail immediately", func(t *testing.T) {
		result := <-rf.svc.Request(context.Background(), id, from, to)
		failure, ok := result.(RetransmissionFailure)
		require.True(t, ok)
		assert.Equal(t, "shutting down", failure.Message)
	})

	// Unblock the parked fetches; their late results must be dropped, not
	// delivered to the already-closed channels.
	close(data.release)
	time.Sleep(50 * time.Millisecond)
}
