package asyncop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval is the pause before every status fetch.
const DefaultInterval = 1 * time.Second

// Poller drives one operation to a terminal state. S is the status payload
// type returned by Fetch.
//
// Polling has no wall-clock bound: an operation that never finishes is polled
// until ctx is canceled. The busy budget is the only built-in limit, and it
// only applies to consecutive busy responses.
type Poller[S any] struct {
	// Interval is slept before each fetch. Zero means DefaultInterval.
	Interval time.Duration

	// BusyTolerance is how many consecutive busy errors are absorbed before
	// the busy error is returned. Any non-busy response resets the count.
	BusyTolerance int

	// Fetch returns the current status payload for id.
	Fetch func(ctx context.Context, id string) (S, error)

	// Classify maps a payload to Running, Succeeded or Failed.
	Classify func(S) Outcome

	// IsBusy reports whether a Fetch error is the transient busy signal.
	// Nil means no error is treated as busy.
	IsBusy func(error) bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Sleep waits between polls. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is the final status of a polled operation. A Failed outcome is data,
// not an error.
type Result[S any] struct {
	Status  S
	Outcome Outcome
	Polls   int
	Busy    int
}

// Wait polls op until Classify reports a terminal outcome.
func (p *Poller[S]) Wait(ctx context.Context, op Operation) (Result[S], error) {
	var res Result[S]

	if p.Fetch == nil || p.Classify == nil {
		return res, errors.New("asyncop: poller requires Fetch and Classify")
	}

	if op.ID == "" {
		return res, ErrNoOperation
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = timeSleep
	}

	tolerance := max(p.BusyTolerance, 0)
	consecutiveBusy := 0

	for {
		if err := sleep(ctx, interval); err != nil {
			return res, fmt.Errorf("asyncop: %s %s abandoned: %w", op.Kind, op.ID, err)
		}

		status, err := p.Fetch(ctx, op.ID)
		res.Polls++

		if err != nil {
			if p.IsBusy == nil || !p.IsBusy(err) {
				return res, err
			}

			consecutiveBusy++
			res.Busy++

			if consecutiveBusy > tolerance {
				logger.Error("server stayed busy while polling",
					slog.String("kind", op.Kind.String()),
					slog.String("operation_id", op.ID),
					slog.Int("consecutive_busy", consecutiveBusy),
				)

				return res, err
			}

			logger.Warn("server busy, polling again",
				slog.String("kind", op.Kind.String()),
				slog.String("operation_id", op.ID),
				slog.Int("consecutive_busy", consecutiveBusy),
				slog.Int("tolerance", tolerance),
			)

			continue
		}

		consecutiveBusy = 0
		outcome := p.Classify(status)

		logger.Debug("polled operation",
			slog.String("kind", op.Kind.String()),
			slog.String("operation_id", op.ID),
			slog.String("outcome", outcome.String()),
			slog.Int("poll", res.Polls),
		)

		if outcome.Terminal() {
			res.Status = status
			res.Outcome = outcome

			return res, nil
		}
	}
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
