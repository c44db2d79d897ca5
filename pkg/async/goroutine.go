package async

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/axle/pkg/observability"
	"github.com/sirupsen/logrus"
)

// SafeGo runs fn in a new goroutine with panic recovery and logging.
//
// When timeout is positive fn's context is cancelled after it elapses. The
// returned channel receives fn's result (a *observability.PanicError if fn
// panicked) and is then closed. Callers that do not care about the result may
// drop the channel; it is buffered so the goroutine never blocks on it.
func SafeGo(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(ctx context.Context) error) <-chan error {
	result := make(chan error, 1)
	entry := log.WithField("task", taskName)

	go func() {
		defer close(result)

		ctx := parentCtx
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
			defer cancel()
		}

		err := observability.SafeCall(entry, taskName, func() error {
			return fn(ctx)
		})

		switch {
		case err == nil:
			entry.Debug("background task finished")
		case errors.Is(err, context.Canceled):
			entry.Debug("background task cancelled")
		case errors.Is(err, context.DeadlineExceeded):
			entry.WithField("timeout", timeout).Warn("background task timed out")
		default:
			entry.WithError(err).Error("background task failed")
		}
		result <- err
	}()

	return result
}

// SafeGoNoError is SafeGo for functions without an error result.
func SafeGoNoError(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(ctx context.Context)) <-chan error {
	return SafeGo(parentCtx, log, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every channel returned by SafeGo has delivered its result
// and returns the errors joined, ignoring context cancellation.
func Wait(results ...<-chan error) error {
	var errs []error
	for _, ch := range results {
		for err := range ch {
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
