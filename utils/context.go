package utils

import (
	"context"
	"time"
)

func ContextSleep(ctx context.Context, d time.Duration) *time.Time {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil
	case t := <-timer.C:
		return &t
	}
}

// DrainContext returns a context that outlives ctx by timeout.
// It lets in-flight work finish after a shutdown signal while bounding how long it may take.
func DrainContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(timeout, cancel)
	})
	return drainCtx, func() {
		stop()
		cancel()
	}
}
