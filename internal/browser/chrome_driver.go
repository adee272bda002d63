// internal/browser/chrome_driver.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/internal/config"
)

const defaultOperationTimeout = 30 * time.Second

// ChromeDriver implements Driver on top of chromedp. It either launches a
// local Chrome or attaches to one exposing the DevTools protocol.
type ChromeDriver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu        sync.Mutex
	tabCtx    map[target.ID]context.Context
	tabCancel map[target.ID]context.CancelFunc
	order     []target.ID
	active    target.ID
	isClosed  bool
}

var _ Driver = (*ChromeDriver)(nil)

// buildAllocatorOptions assembles the exec allocator flags for a local launch.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	w, h := cfg.ViewportSize()
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(w, h),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(trimFlag(arg), true))
	}
	return opts
}

func trimFlag(arg string) string {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	return arg
}

// NewChromeDriver starts or attaches to a browser, sizes the viewport and
// navigates to the configured start page. Against a remote browser it never
// drives a page the user already has open: an unattached blank tab is reused,
// otherwise a new one is created.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	log := logger.Named("browser_driver")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		log.Info("Attaching to remote browser.", zap.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(Detach(ctx), cfg.RemoteURL)
	} else {
		log.Info("Launching local browser.", zap.Bool("headless", cfg.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(Detach(ctx), buildAllocatorOptions(cfg)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	d := &ChromeDriver{
		logger:        log,
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabCtx:        make(map[target.ID]context.Context),
		tabCancel:     make(map[target.ID]context.CancelFunc),
	}

	var first target.ID
	var err error
	if cfg.RemoteURL != "" {
		first, err = d.attachRemote(ctx)
	} else {
		first, err = d.attachLocal(ctx)
	}
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	w, h := cfg.ViewportSize()
	startURL := cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	d.order = append(d.order, first)
	d.active = first

	if err := d.run(ctx,
		chromedp.EmulateViewport(int64(w), int64(h)),
		chromedp.Navigate(startURL),
	); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to prepare start page: %w", err)
	}

	log.Info("Browser ready.", zap.Int("width", w), zap.Int("height", h), zap.String("start_url", startURL), zap.String("target_id", string(first)))
	return d, nil
}

// firstUse runs fn, the first call made on a chromedp context. chromedp ties
// the browser, or a tab's event loop, to the context of that first call, so
// fn must use the long lived context itself. The operation timeout and ctx
// are enforced by calling abort instead.
func (d *ChromeDriver) firstUse(ctx context.Context, abort context.CancelFunc, fn func() error) error {
	timer := time.AfterFunc(d.opTimeout(), abort)
	stop := context.AfterFunc(ctx, abort)
	err := fn()
	stop()
	if !timer.Stop() && err != nil {
		return fmt.Errorf("browser did not respond within %s: %w", d.opTimeout(), err)
	}
	return err
}

// attachLocal allocates a freshly launched browser and adopts its initial tab.
func (d *ChromeDriver) attachLocal(ctx context.Context) (target.ID, error) {
	err := d.firstUse(ctx, d.browserCancel, func() error { return chromedp.Run(d.browserCtx) })
	if err != nil {
		return "", err
	}
	id := chromedp.FromContext(d.browserCtx).Target.TargetID
	d.tabCtx[id] = d.browserCtx
	return id, nil
}

// attachRemote connects to the remote browser, then attaches to a reusable
// blank tab or a tab it creates. The browser context itself never attaches.
func (d *ChromeDriver) attachRemote(ctx context.Context) (target.ID, error) {
	var infos []*target.Info
	err := d.firstUse(ctx, d.browserCancel, func() error {
		var err error
		infos, err = chromedp.Targets(d.browserCtx)
		return err
	})
	if err != nil {
		return "", err
	}

	id, reused := startTarget(infos)
	if reused {
		d.logger.Info("Reusing blank tab.", zap.String("target_id", string(id)))
	} else {
		opCtx, cancel := CombineContext(d.browserCtx, ctx)
		defer cancel()
		opCtx, cancelTimeout := context.WithTimeout(opCtx, d.opTimeout())
		defer cancelTimeout()

		browser := chromedp.FromContext(d.browserCtx).Browser
		id, err = target.CreateTarget("about:blank").Do(cdp.WithExecutor(opCtx, browser))
		if err != nil {
			return "", fmt.Errorf("failed to open a tab: %w", err)
		}
		d.logger.Info("Opened new tab.", zap.String("target_id", string(id)))
	}

	if _, err := d.openTab(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// openTab attaches a chromedp context to an existing page target and
// registers it. Callers must not hold d.mu.
func (d *ChromeDriver) openTab(ctx context.Context, id target.ID) (context.Context, error) {
	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(id))
	if err := d.firstUse(ctx, tabCancel, func() error { return chromedp.Run(tabCtx) }); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.tabCtx[id]; ok {
		tabCancel()
		return existing, nil
	}
	d.tabCtx[id] = tabCtx
	d.tabCancel[id] = tabCancel
	return tabCtx, nil
}

// startTarget picks the first page target that is blank and has no client
// attached. It reports false when none qualifies and a tab must be created.
func startTarget(infos []*target.Info) (target.ID, bool) {
	for _, info := range infos {
		if info == nil || info.Type != "page" || info.Attached {
			continue
		}
		if info.URL == "about:blank" || info.URL == "" {
			return info.TargetID, true
		}
	}
	return "", false
}

func (d *ChromeDriver) opTimeout() time.Duration {
	if d.cfg.OperationTimeout > 0 {
		return d.cfg.OperationTimeout
	}
	return defaultOperationTimeout
}

// run executes actions against the active tab, bounded by ctx and the
// operation timeout.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return fmt.Errorf("browser driver is closed")
	}
	tabCtx := d.tabCtx[d.active]
	d.mu.Unlock()

	opCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	opCtx, cancelTimeout := context.WithTimeout(opCtx, d.opTimeout())
	defer cancelTimeout()

	return chromedp.Run(opCtx, actions...)
}

func (d *ChromeDriver) DispatchMouseEvent(ctx context.Context, p *input.DispatchMouseEventParams) error {
	return d.run(ctx, p)
}

func (d *ChromeDriver) DispatchKeyEvent(ctx context.Context, p *input.DispatchKeyEventParams) error {
	return d.run(ctx, p)
}

func (d *ChromeDriver) InsertText(ctx context.Context, text string) error {
	return d.run(ctx, input.InsertText(text))
}

func (d *ChromeDriver) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return d.run(ctx, chromedp.Evaluate(expression, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *ChromeDriver) NavigateBack(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateBack())
}

func (d *ChromeDriver) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	return buf, err
}

func (d *ChromeDriver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *ChromeDriver) NodeText(ctx context.Context, selector string) (string, error) {
	var text string
	err := d.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible))
	return text, err
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, chromedp.Location(&url))
	return url, err
}

// Tabs refreshes the page target list. Known tabs keep their position and
// new ones are appended, so indexes stay stable across calls.
func (d *ChromeDriver) Tabs(ctx context.Context) ([]Tab, error) {
	listCtx, cancel := CombineContext(d.browserCtx, ctx)
	defer cancel()
	listCtx, cancelTimeout := context.WithTimeout(listCtx, d.opTimeout())
	defer cancelTimeout()

	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list browser targets: %w", err)
	}

	urls := make(map[target.ID]string, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			urls[info.TargetID] = info.URL
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	known := make(map[target.ID]bool, len(d.order))
	order := d.order[:0]
	for _, id := range d.order {
		if _, open := urls[id]; open {
			order = append(order, id)
			known[id] = true
		}
	}
	for _, info := range infos {
		if _, isPage := urls[info.TargetID]; isPage && !known[info.TargetID] {
			order = append(order, info.TargetID)
			known[info.TargetID] = true
		}
	}
	d.order = order

	tabs := make([]Tab, 0, len(order))
	for _, id := range order {
		tabs = append(tabs, Tab{ID: string(id), URL: urls[id]})
	}
	return tabs, nil
}

func (d *ChromeDriver) ActiveTab() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.active)
}

// ActivateTab brings a tab to the front and routes later actions to it.
func (d *ChromeDriver) ActivateTab(ctx context.Context, id string) error {
	tid := target.ID(id)

	d.mu.Lock()
	tabCtx, ok := d.tabCtx[tid]
	d.mu.Unlock()
	if !ok {
		var err error
		if tabCtx, err = d.openTab(ctx, tid); err != nil {
			return err
		}
	}

	opCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	opCtx, cancelTimeout := context.WithTimeout(opCtx, d.opTimeout())
	defer cancelTimeout()

	if err := chromedp.Run(opCtx, page.BringToFront()); err != nil {
		return fmt.Errorf("failed to activate tab %s: %w", id, err)
	}

	d.mu.Lock()
	d.active = tid
	d.mu.Unlock()
	d.logger.Debug("Switched active tab.", zap.String("target_id", id))
	return nil
}

func (d *ChromeDriver) Sleep(ctx context.Context, dur time.Duration) error {
	return sleepCtx(ctx, dur)
}

// Close tears down tab contexts, the browser context and the allocator.
// A remote browser is detached from, not terminated.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return nil
	}
	d.isClosed = true
	cancels := make([]context.CancelFunc, 0, len(d.tabCancel))
	for _, c := range d.tabCancel {
		cancels = append(cancels, c)
	}
	d.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	d.logger.Info("Browser driver closed.")
	return nil
}
