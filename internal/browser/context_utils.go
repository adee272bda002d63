// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context that inherits values from ctx1 and is
// canceled when either ctx1 or ctx2 is done. chromedp keeps its target in
// ctx1, while ctx2 usually carries the caller's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	if deadline, ok := ctx2.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combinedCtx, cancelDeadline = context.WithDeadline(combinedCtx, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                    { return nil }
func (valueOnlyContext) Err() error                               { return nil }

// Detach returns a context carrying ctx's values but none of its
// cancellation. Used for cleanup that must outlive the caller.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
