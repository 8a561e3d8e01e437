package pa6

import (
	"context"

	"github.com/megaputer/pa6-go/pkg/asyncop"
)

// newPoller builds a poller configured from the client's polling options.
// Busy responses count against the client's busy tolerance.
func newPoller[S any](
	c *Client,
	kind asyncop.Kind,
	fetch func(ctx context.Context, id string) (S, error),
	classify func(S) asyncop.Outcome,
) *asyncop.Poller[S] {
	return &asyncop.Poller[S]{
		Interval:      c.pollInterval,
		BusyTolerance: c.busyTolerance,
		Fetch: func(ctx context.Context, id string) (S, error) {
			s, err := fetch(ctx, id)
			c.metrics.observePoll(kind.String(), IsBusy(err))

			return s, err
		},
		Classify: classify,
		IsBusy:   IsBusy,
		Logger:   c.logger,
		Sleep:    c.sleep,
	}
}
