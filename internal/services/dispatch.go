package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Detach runs fn in the background on a context that survives the caller's
// cancellation but is bounded by timeout. The caller never waits for it:
// failures are logged here and also delivered on the returned channel, which
// is buffered so nobody has to read it.
func Detach(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	logCtx := slog.With("task", name)

	go func() {
		defer cancel()
		defer close(done)

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in %s: %v", name, r)
				}
			}()
			return fn(bgCtx)
		}()
		if err != nil {
			logCtx.Error("Detached task failed.", "error", err)
		} else {
			logCtx.Info("Detached task finished.")
		}
		done <- err
	}()
	return done
}
