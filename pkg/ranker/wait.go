package ranker

import (
	"context"
	"time"

	"github.com/docker/model-ranker/pkg/logging"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the pause between two status checks.
const DefaultPollInterval = 2 * time.Second

// Clock is the time source used by AwaitAvailable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type waitConfig struct {
	interval    time.Duration
	maxAttempts int
	deadline    time.Time
	clock       Clock
	hook        func(*Ranker)
}

// WaitOption configures AwaitAvailable.
type WaitOption func(*waitConfig)

// WithPollInterval sets the pause between status checks.
func WithPollInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.interval = d }
}

// WithMaxAttempts bounds the number of status checks. Zero means unbounded.
func WithMaxAttempts(n int) WaitOption {
	return func(c *waitConfig) { c.maxAttempts = n }
}

// WithDeadline gives up once the next status check would happen after t.
func WithDeadline(t time.Time) WaitOption {
	return func(c *waitConfig) { c.deadline = t }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) WaitOption {
	return func(c *waitConfig) { c.clock = clock }
}

// WithStatusHook is called with every status observed while waiting.
func WithStatusHook(hook func(*Ranker)) WaitOption {
	return func(c *waitConfig) { c.hook = hook }
}

// AwaitAvailable polls a ranker until training finishes.
//
// The ranker is returned as soon as it reports Available. While it reports
// Training, AwaitAvailable sleeps for the poll interval and checks again. Any
// other status ends the wait with a *TrainingFailedError. Without
// WithMaxAttempts or WithDeadline the wait only ends through ctx, so callers
// are responsible for bounding it. ctx is checked before every poll and every
// sleep; once it is done the returned error matches ErrCancelled and no
// further requests are made.
func (c *Client) AwaitAvailable(ctx context.Context, rankerID string, opts ...WaitOption) (*Ranker, error) {
	if err := validateID(rankerID); err != nil {
		return nil, err
	}

	cfg := waitConfig{
		interval: DefaultPollInterval,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.interval <= 0 {
		return nil, invalidArgument("poll interval must be positive, got %s", cfg.interval)
	}
	if cfg.maxAttempts < 0 {
		return nil, invalidArgument("max attempts can not be negative, got %d", cfg.maxAttempts)
	}

	log := c.log.WithField("ranker", logging.Sanitize(rankerID))
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{RankerID: rankerID, Err: err}
		}

		ranker, err := c.GetRankerStatus(ctx, rankerID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &CancelledError{RankerID: rankerID, Err: ctxErr}
			}
			return nil, err
		}
		if cfg.hook != nil {
			cfg.hook(ranker)
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "status": ranker.RawStatus}).Debug("Polled ranker status")

		switch ranker.Status {
		case StatusAvailable:
			return ranker, nil
		case StatusTraining:
		default:
			return nil, &TrainingFailedError{
				RankerID:    rankerID,
				Status:      reportedStatus(ranker),
				Description: ranker.StatusDescription,
			}
		}

		if cfg.maxAttempts > 0 && attempt >= cfg.maxAttempts {
			return nil, &WaitTimeoutError{RankerID: rankerID, Attempts: attempt, LastStatus: ranker.RawStatus}
		}
		if !cfg.deadline.IsZero() && cfg.clock.Now().Add(cfg.interval).After(cfg.deadline) {
			return nil, &WaitTimeoutError{RankerID: rankerID, Attempts: attempt, LastStatus: ranker.RawStatus}
		}

		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{RankerID: rankerID, Err: err}
		}
		select {
		case <-ctx.Done():
			return nil, &CancelledError{RankerID: rankerID, Err: ctx.Err()}
		case <-cfg.clock.After(cfg.interval):
		}
	}
}

// reportedStatus is the status text for errors: the raw wire value, or
// Unknown when the service sent none.
func reportedStatus(r *Ranker) string {
	if r.RawStatus == "" {
		return string(StatusUnknown)
	}
	return r.RawStatus
}
