package pa6

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avast/retry-go/v4"
)

const (
	unloadAttempts = 10
	notOpenedText  = "has not been opened"
)

// Unload removes the project from server memory.
//
// Busy answers are retried up to ten times with exponential backoff. If an
// earlier attempt was busy and a later one says the project is not open, the
// busy attempt most likely unloaded it, so that counts as success and is
// reported as a diagnostic. The same answer on the first attempt is an
// error.
func (p *Project) Unload(ctx context.Context, force bool) error {
	b := p.body()
	if force {
		b["forceUnload"] = true
	}

	attempt := 0

	err := retry.Do(
		func() error {
			attempt++

			_, err := p.c.post(ctx, "project/unload", nil, b, nil)
			if err == nil {
				return nil
			}

			var apiErr *APIError
			if attempt > 1 && errors.As(err, &apiErr) && strings.Contains(apiErr.Message, notOpenedText) {
				p.c.diagnose(SourceUnload, apiErr.Message)
				return nil
			}

			return err
		},
		retry.Context(ctx),
		retry.Attempts(unloadAttempts),
		retry.Delay(p.c.unloadDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsBusy),
		retry.OnRetry(func(n uint, _ error) {
			p.c.logger.Warn("server busy, retrying unload",
				slog.String("project", p.uuid),
				slog.Uint64("attempt", uint64(n+1)),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("pa6: unloading %s after %d attempts: %w", p.uuid, attempt, err)
	}

	p.c.logger.Info("project unloaded", slog.String("project", p.uuid))

	return nil
}
