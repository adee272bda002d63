// internal/browser/helpers_test.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
)

// recordedEvent is a flattened view of one driver call.
type recordedEvent struct {
	Kind   string // mouse, key, insert, eval, navigate, back, sleep, activate
	Type   string
	Key    string
	X, Y   float64
	Button input.MouseButton
	Mods   input.Modifier
	Text   string
	Delay  time.Duration
}

// fakeDriver records every call and fails on demand.
type fakeDriver struct {
	mu     sync.Mutex
	events []recordedEvent

	// failOn returns an error for the matching event, or nil.
	failOn func(ev recordedEvent) error

	evalResults map[string]string
	nodeText    map[string]string
	waitErr     error

	tabs   []Tab
	active string
	url    string
	shot   []byte
	closed bool
}

var _ Driver = (*fakeDriver)(nil)

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		evalResults: map[string]string{},
		nodeText:    map[string]string{},
		tabs:        []Tab{{ID: "t0", URL: "about:blank"}},
		active:      "t0",
		url:         "about:blank",
		shot:        []byte("png"),
	}
}

func (f *fakeDriver) record(ev recordedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		if err := f.failOn(ev); err != nil {
			return err
		}
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeDriver) recorded() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedEvent(nil), f.events...)
}

func (f *fakeDriver) keyEvents() []recordedEvent {
	var out []recordedEvent
	for _, ev := range f.recorded() {
		if ev.Kind == "key" {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeDriver) DispatchMouseEvent(_ context.Context, p *input.DispatchMouseEventParams) error {
	return f.record(recordedEvent{Kind: "mouse", Type: string(p.Type), X: p.X, Y: p.Y, Button: p.Button})
}

func (f *fakeDriver) DispatchKeyEvent(_ context.Context, p *input.DispatchKeyEventParams) error {
	return f.record(recordedEvent{Kind: "key", Type: string(p.Type), Key: p.Key, Mods: p.Modifiers, Text: p.Text})
}

func (f *fakeDriver) InsertText(_ context.Context, text string) error {
	return f.record(recordedEvent{Kind: "insert", Text: text})
}

func (f *fakeDriver) Evaluate(_ context.Context, expression string, res interface{}) error {
	if err := f.record(recordedEvent{Kind: "eval", Text: expression}); err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	f.mu.Lock()
	v, ok := f.evalResults[expression]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no result for %q", expression)
	}
	if s, ok := res.(*string); ok {
		*s = v
	}
	return nil
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	if err := f.record(recordedEvent{Kind: "navigate", Text: url}); err != nil {
		return err
	}
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) NavigateBack(_ context.Context) error {
	return f.record(recordedEvent{Kind: "back"})
}

func (f *fakeDriver) CaptureScreenshot(_ context.Context) ([]byte, error) {
	return f.shot, nil
}

func (f *fakeDriver) WaitVisible(ctx context.Context, _ string) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	return ctx.Err()
}

func (f *fakeDriver) NodeText(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.nodeText[selector]
	if !ok {
		return "", fmt.Errorf("no node for %q", selector)
	}
	return text, nil
}

func (f *fakeDriver) CurrentURL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeDriver) Tabs(_ context.Context) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tab(nil), f.tabs...), nil
}

func (f *fakeDriver) ActiveTab() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeDriver) ActivateTab(_ context.Context, id string) error {
	if err := f.record(recordedEvent{Kind: "activate", Text: id}); err != nil {
		return err
	}
	f.mu.Lock()
	f.active = id
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Sleep(_ context.Context, d time.Duration) error {
	return f.record(recordedEvent{Kind: "sleep", Delay: d})
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
