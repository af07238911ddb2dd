package events

import (
	"context"
	"log/slog"
	"sync"
)

// runWorkers starts n copies of loop and waits for all of them. The first
// error cancels the remaining loops and is returned.
func runWorkers(ctx context.Context, n int, loop func(context.Context) error) error {
	if n <= 0 {
		n = 1
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := loop(ctx); err != nil {
				cancel(err)
			}
		}()
	}
	wg.Wait()
	return context.Cause(ctx)
}

// dispatch runs handler and logs a failure. It reports whether the event was
// handled.
func dispatch(ctx context.Context, log *slog.Logger, handler Handler, evt Event) bool {
	if err := handler(ctx, evt); err != nil {
		log.Warn("事件处理失败", "event_id", evt.ID, "type", evt.Type, "error", err)
		return false
	}
	return true
}
