package lifecycle

import (
	"context"
	"time"
)

// Every calls fn each interval until ctx is done. The first call happens
// after one interval, not immediately.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
