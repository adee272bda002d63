// internal/browser/driver.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
)

// Tab identifies an open page in the controlled browser.
type Tab struct {
	ID  string
	URL string
}

// Driver is the low level browser surface the Computer drives. Every method
// that talks to the browser takes a context and honors its deadline.
type Driver interface {
	DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error
	DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error
	InsertText(ctx context.Context, text string) error

	// Evaluate runs a JavaScript expression in the active tab. res may be nil.
	Evaluate(ctx context.Context, expression string, res interface{}) error
	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	WaitVisible(ctx context.Context, selector string) error
	NodeText(ctx context.Context, selector string) (string, error)
	CurrentURL(ctx context.Context) (string, error)

	// Tabs lists the open pages in the order they were first seen.
	Tabs(ctx context.Context) ([]Tab, error)
	ActiveTab() string
	ActivateTab(ctx context.Context, id string) error

	Sleep(ctx context.Context, d time.Duration) error
	Close() error
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
