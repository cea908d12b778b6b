package ranker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/docker/model-ranker/pkg/transport/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeClock advances instantly and records every requested sleep.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	// onSleep runs before a sleep is granted. Returning false blocks the sleep
	// forever.
	onSleep func(n int) bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil && !c.onSleep(len(c.sleeps)) {
		return nil
	}
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// expectStatuses makes the mock answer successive status polls with the
// given statuses, and fails the test on any extra poll.
func expectStatuses(t *testing.T, mockClient *mocks.MockHTTPClient, rankerID string, statuses ...string) {
	t.Helper()
	polls := 0
	mockClient.EXPECT().Do(gomock.Any()).Times(len(statuses)).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "http://localhost/v1/rankers/"+rankerID, req.URL.String())
		status := statuses[polls]
		polls++
		return jsonResponse(http.StatusOK, fmt.Sprintf(`{"ranker_id":%q,"status":%q,"status_description":"poll %d"}`, rankerID, status, polls)), nil
	})
}

func TestAwaitAvailable(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []string
		wantSleeps int
	}{
		{name: "already available", statuses: []string{"Available"}, wantSleeps: 0},
		{name: "training then available", statuses: []string{"Training", "Available"}, wantSleeps: 1},
		{name: "two training polls", statuses: []string{"Training", "Training", "Available"}, wantSleeps: 2},
		{name: "status case is ignored", statuses: []string{"TRAINING", "available"}, wantSleeps: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mockClient := newTestClient(t)
			expectStatuses(t, mockClient, "r-1", tt.statuses...)
			clock := newFakeClock()

			ranker, err := client.AwaitAvailable(context.Background(), "r-1",
				WithClock(clock), WithPollInterval(3*time.Second))
			require.NoError(t, err)
			assert.Equal(t, StatusAvailable, ranker.Status)
			require.Len(t, clock.sleeps, tt.wantSleeps)
			for _, d := range clock.sleeps {
				assert.Equal(t, 3*time.Second, d)
			}
		})
	}
}

func TestAwaitAvailableDefaultInterval(t *testing.T) {
	client, mockClient := newTestClient(t)
	expectStatuses(t, mockClient, "r-1", "Training", "Available")
	clock := newFakeClock()

	_, err := client.AwaitAvailable(context.Background(), "r-1", WithClock(clock))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{DefaultPollInterval}, clock.sleeps)
}

func TestAwaitAvailableTrainingFailed(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []string
		wantStatus string
	}{
		{name: "failed", statuses: []string{"Training", "Failed"}, wantStatus: "Failed"},
		{name: "non existent", statuses: []string{"Non_Existent"}, wantStatus: "Non_Existent"},
		{name: "unknown status", statuses: []string{"Training", "Unavailable"}, wantStatus: "Unavailable"},
		{name: "missing status", statuses: []string{""}, wantStatus: "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// expectStatuses fails the test if the wait keeps polling after
			// the terminal status.
			client, mockClient := newTestClient(t)
			expectStatuses(t, mockClient, "r-1", tt.statuses...)

			_, err := client.AwaitAvailable(context.Background(), "r-1", WithClock(newFakeClock()))
			var failedErr *TrainingFailedError
			require.ErrorAs(t, err, &failedErr)
			assert.Equal(t, "r-1", failedErr.RankerID)
			assert.Equal(t, tt.wantStatus, failedErr.Status)
			assert.Equal(t, fmt.Sprintf("poll %d", len(tt.statuses)), failedErr.Description)
		})
	}
}

func TestAwaitAvailableCancelledWhileSleeping(t *testing.T) {
	client, mockClient := newTestClient(t)
	// Exactly two polls: the third is never attempted.
	expectStatuses(t, mockClient, "r-1", "Training", "Training")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock()
	clock.onSleep = func(n int) bool {
		if n == 2 {
			cancel()
			return false
		}
		return true
	}

	_, err := client.AwaitAvailable(ctx, "r-1", WithClock(clock))
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	var cancelledErr *CancelledError
	require.ErrorAs(t, err, &cancelledErr)
	assert.Equal(t, "r-1", cancelledErr.RankerID)
}

func TestAwaitAvailableCancelledBeforeStart(t *testing.T) {
	// No EXPECT: the service must not be contacted.
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.AwaitAvailable(ctx, "r-1", WithClock(newFakeClock()))
	require.ErrorIs(t, err, ErrCancelled)
}

func TestAwaitAvailableCancelledDuringPoll(t *testing.T) {
	client, mockClient := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		cancel()
		return nil, req.Context().Err()
	})

	_, err := client.AwaitAvailable(ctx, "r-1", WithClock(newFakeClock()))
	require.ErrorIs(t, err, ErrCancelled)
}

func TestAwaitAvailableMaxAttempts(t *testing.T) {
	client, mockClient := newTestClient(t)
	expectStatuses(t, mockClient, "r-1", "Training", "Training", "Training")
	clock := newFakeClock()

	_, err := client.AwaitAvailable(context.Background(), "r-1", WithClock(clock), WithMaxAttempts(3))
	require.ErrorIs(t, err, ErrWaitTimeout)
	var timeoutErr *WaitTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, "Training", timeoutErr.LastStatus)
	assert.Len(t, clock.sleeps, 2)
}

func TestAwaitAvailableDeadline(t *testing.T) {
	client, mockClient := newTestClient(t)
	// Polls at +0s, +2s and +4s; a fourth poll at +6s would miss the deadline.
	expectStatuses(t, mockClient, "r-1", "Training", "Training", "Training")
	clock := newFakeClock()

	_, err := client.AwaitAvailable(context.Background(), "r-1",
		WithClock(clock),
		WithPollInterval(2*time.Second),
		WithDeadline(clock.Now().Add(5*time.Second)))
	var timeoutErr *WaitTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Attempts)
}

func TestAwaitAvailableInvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		rankerID string
		opts     []WaitOption
	}{
		{name: "empty id", rankerID: ""},
		{name: "zero interval", rankerID: "r-1", opts: []WaitOption{WithPollInterval(0)}},
		{name: "negative interval", rankerID: "r-1", opts: []WaitOption{WithPollInterval(-time.Second)}},
		{name: "negative attempts", rankerID: "r-1", opts: []WaitOption{WithMaxAttempts(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t)
			_, err := client.AwaitAvailable(context.Background(), tt.rankerID, tt.opts...)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestAwaitAvailableStatusHook(t *testing.T) {
	client, mockClient := newTestClient(t)
	expectStatuses(t, mockClient, "r-1", "Training", "Training", "Available")

	var seen []Status
	_, err := client.AwaitAvailable(context.Background(), "r-1",
		WithClock(newFakeClock()),
		WithStatusHook(func(r *Ranker) { seen = append(seen, r.Status) }))
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusTraining, StatusTraining, StatusAvailable}, seen)
}

func TestAwaitAvailablePollError(t *testing.T) {
	client, mockClient := newTestClient(t)
	gomock.InOrder(
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"ranker_id":"r-1","status":"Training"}`), nil),
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusServiceUnavailable, "try later"), nil),
	)

	_, err := client.AwaitAvailable(context.Background(), "r-1", WithClock(newFakeClock()))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.False(t, errors.Is(err, ErrCancelled))
}

func TestTrain(t *testing.T) {
	client, mockClient := newTestClient(t)
	gomock.InOrder(
		mockClient.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodPost, req.Method)
			return jsonResponse(http.StatusOK, `{"ranker_id":"r-9","name":"trained","status":"Training"}`), nil
		}),
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"ranker_id":"r-9","status":"Training"}`), nil),
		mockClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, `{"ranker_id":"r-9","name":"trained","status":"Available"}`), nil),
	)

	ranker, err := client.Train(context.Background(), "trained", strings.NewReader("qid,f1,rank\n1,0.3,2\n"), WithClock(newFakeClock()))
	require.NoError(t, err)
	assert.Equal(t, "r-9", ranker.ID)
	assert.Equal(t, StatusAvailable, ranker.Status)
}
