// internal/browser/computer.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
)

const (
	DisplayWidth  = 1024
	DisplayHeight = 768

	defaultWaitMS         = 1000
	defaultSelectorWaitMS = 10000
	scrollSettle          = 500 * time.Millisecond
)

// ErrUnsupportedAction is returned when an action type has no handler.
var ErrUnsupportedAction = errors.New("unsupported action")

// Side-tool function names exposed alongside the computer tool.
const (
	FuncCopyTextFromPage     = "copy_text_from_page"
	FuncCopyTextFromSelector = "copy_text_from_selector"
	FuncGetCurrentURL        = "get_current_url"
	FuncGetTypedText         = "get_typed_text"
)

type actionHandler func(ctx context.Context, a schemas.Action) error

type functionHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Computer executes model actions against a single browser page.
type Computer struct {
	driver      Driver
	logger      *zap.Logger
	width       int
	height      int
	environment string

	handlers  map[schemas.ActionType]actionHandler
	functions map[string]functionHandler

	mu    sync.Mutex
	typed strings.Builder
}

// ComputerOption configures a Computer.
type ComputerOption func(*Computer)

// WithDisplaySize sets the display size declared to the model. It should
// match the browser viewport so model coordinates land where intended.
// Non-positive values keep the default.
func WithDisplaySize(width, height int) ComputerOption {
	return func(c *Computer) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// NewComputer wires the action and function tables to a driver.
func NewComputer(driver Driver, logger *zap.Logger, opts ...ComputerOption) *Computer {
	c := &Computer{
		driver:      driver,
		logger:      logger.Named("browser"),
		width:       DisplayWidth,
		height:      DisplayHeight,
		environment: schemas.EnvironmentBrowser,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registerHandlers()
	c.registerFunctions()
	return c
}

func (c *Computer) registerHandlers() {
	c.handlers = map[schemas.ActionType]actionHandler{
		schemas.ActionClick:       c.click,
		schemas.ActionDoubleClick: c.doubleClick,
		schemas.ActionScroll:      c.scroll,
		schemas.ActionTypeText:    c.typeText,
		schemas.ActionWait:        c.wait,
		schemas.ActionMove:        c.move,
		schemas.ActionKeypress:    c.keypress,
		schemas.ActionDrag:        c.drag,
		schemas.ActionGoto:        c.gotoURL,
		schemas.ActionBack:        c.back,
		schemas.ActionScreenshot:  func(context.Context, schemas.Action) error { return nil },
	}
}

func (c *Computer) registerFunctions() {
	c.functions = map[string]functionHandler{
		FuncCopyTextFromPage:     c.copyTextFromPage,
		FuncCopyTextFromSelector: c.copyTextFromSelector,
		FuncGetCurrentURL:        c.getCurrentURL,
		FuncGetTypedText:         c.getTypedText,
	}
}

// Dimensions returns the display size declared to the model.
func (c *Computer) Dimensions() (int, int) { return c.width, c.height }

// Environment returns the environment declared to the model.
func (c *Computer) Environment() string { return c.environment }

// Execute performs one action. Unknown action types yield ErrUnsupportedAction.
func (c *Computer) Execute(ctx context.Context, a schemas.Action) error {
	h, ok := c.handlers[a.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Type)
	}
	c.logger.Debug("Executing action.", zap.String("type", string(a.Type)), zap.Int("x", a.X), zap.Int("y", a.Y))
	if err := h(ctx, a); err != nil {
		return fmt.Errorf("action %s failed: %w", a.Type, err)
	}
	return nil
}

// Screenshot captures the current page as PNG bytes.
func (c *Computer) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := c.driver.CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// HasFunction reports whether name is callable through CallFunction. Action
// names are callable as functions too.
func (c *Computer) HasFunction(name string) bool {
	if _, ok := c.functions[name]; ok {
		return true
	}
	_, ok := c.handlers[schemas.ActionType(name)]
	return ok
}

// CallFunction invokes a named capability with JSON encoded arguments.
func (c *Computer) CallFunction(ctx context.Context, name, arguments string) (string, error) {
	args := json.RawMessage(arguments)
	if strings.TrimSpace(arguments) == "" {
		args = json.RawMessage("{}")
	}

	if fn, ok := c.functions[name]; ok {
		return fn(ctx, args)
	}
	if _, ok := c.handlers[schemas.ActionType(name)]; ok {
		var a schemas.Action
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		a.Type = schemas.ActionType(name)
		return "", c.Execute(ctx, a)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAction, name)
}

// -- Mouse --

func mouseButton(b schemas.Button) input.MouseButton {
	switch b {
	case schemas.ButtonRight:
		return input.Right
	case schemas.ButtonMiddle, schemas.ButtonWheel:
		return input.Middle
	case schemas.ButtonBack:
		return input.Back
	case schemas.ButtonForward:
		return input.Forward
	default:
		return input.Left
	}
}

// buttonsMask is the CDP "buttons" bitfield for a pressed button.
func buttonsMask(b input.MouseButton) int64 {
	switch b {
	case input.Left:
		return 1
	case input.Right:
		return 2
	case input.Middle:
		return 4
	case input.Back:
		return 8
	case input.Forward:
		return 16
	}
	return 0
}

func (c *Computer) mouseMove(ctx context.Context, x, y int) error {
	return c.driver.DispatchMouseEvent(ctx, input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)))
}

func (c *Computer) mouseDown(ctx context.Context, x, y int, b input.MouseButton, count int64) error {
	p := input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
		WithButton(b).
		WithButtons(buttonsMask(b)).
		WithClickCount(count)
	return c.driver.DispatchMouseEvent(ctx, p)
}

func (c *Computer) mouseUp(ctx context.Context, x, y int, b input.MouseButton, count int64) error {
	p := input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).
		WithButton(b).
		WithClickCount(count)
	return c.driver.DispatchMouseEvent(ctx, p)
}

func (c *Computer) click(ctx context.Context, a schemas.Action) error {
	b := mouseButton(a.Button)
	if err := c.mouseMove(ctx, a.X, a.Y); err != nil {
		return err
	}
	if err := c.mouseDown(ctx, a.X, a.Y, b, 1); err != nil {
		return err
	}
	return c.mouseUp(ctx, a.X, a.Y, b, 1)
}

func (c *Computer) doubleClick(ctx context.Context, a schemas.Action) error {
	if err := c.mouseMove(ctx, a.X, a.Y); err != nil {
		return err
	}
	for count := int64(1); count <= 2; count++ {
		if err := c.mouseDown(ctx, a.X, a.Y, input.Left, count); err != nil {
			return err
		}
		if err := c.mouseUp(ctx, a.X, a.Y, input.Left, count); err != nil {
			return err
		}
	}
	return nil
}

func (c *Computer) move(ctx context.Context, a schemas.Action) error {
	return c.mouseMove(ctx, a.X, a.Y)
}

// scroll prefers a native wheel event and falls back to window.scrollBy.
// Either way it pauses so the page can settle before the next screenshot.
func (c *Computer) scroll(ctx context.Context, a schemas.Action) error {
	err := c.mouseMove(ctx, a.X, a.Y)
	if err == nil {
		wheel := input.DispatchMouseEvent(input.MouseWheel, float64(a.X), float64(a.Y)).
			WithDeltaX(float64(a.ScrollX)).
			WithDeltaY(float64(a.ScrollY))
		err = c.driver.DispatchMouseEvent(ctx, wheel)
	}
	if err != nil {
		c.logger.Debug("Wheel scroll failed, falling back to scrollBy.", zap.Error(err))
		script := fmt.Sprintf("window.scrollBy(%d, %d)", a.ScrollX, a.ScrollY)
		if evalErr := c.driver.Evaluate(ctx, script, nil); evalErr != nil {
			return fmt.Errorf("scroll fallback failed: %w", evalErr)
		}
	}
	return c.driver.Sleep(ctx, scrollSettle)
}

// drag presses at the first point, moves through the rest and releases.
// The button is released even when a move fails.
func (c *Computer) drag(ctx context.Context, a schemas.Action) (err error) {
	if len(a.Path) == 0 {
		return fmt.Errorf("drag requires a non-empty path")
	}
	start := a.Path[0]
	if err := c.mouseMove(ctx, start.X, start.Y); err != nil {
		return err
	}
	if err := c.mouseDown(ctx, start.X, start.Y, input.Left, 1); err != nil {
		return err
	}

	last := start
	defer func() {
		if upErr := c.mouseUp(Detach(ctx), last.X, last.Y, input.Left, 1); upErr != nil && err == nil {
			err = upErr
		}
	}()

	for _, p := range a.Path[1:] {
		move := input.DispatchMouseEvent(input.MouseMoved, float64(p.X), float64(p.Y)).
			WithButton(input.Left).
			WithButtons(1)
		if err := c.driver.DispatchMouseEvent(ctx, move); err != nil {
			return err
		}
		last = p
	}
	return nil
}

// -- Keyboard --

func (c *Computer) typeText(ctx context.Context, a schemas.Action) error {
	lines := strings.Split(a.Text, "\n")
	for i, line := range lines {
		if i > 0 {
			if err := c.pressKey(ctx, "Enter", 0); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		if err := c.driver.InsertText(ctx, line); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.typed.WriteString(a.Text)
	c.mu.Unlock()
	return nil
}

func (c *Computer) pressKey(ctx context.Context, key string, mods input.Modifier) error {
	if err := c.driver.DispatchKeyEvent(ctx, keyEvent(input.KeyDown, key, mods)); err != nil {
		return err
	}
	return c.driver.DispatchKeyEvent(ctx, keyEvent(input.KeyUp, key, mods))
}

// keypress holds every modifier, presses the remaining keys in order and
// always releases the modifiers in reverse. Control+Tab switches tabs instead.
func (c *Computer) keypress(ctx context.Context, a schemas.Action) (err error) {
	modifiers, keys := SplitKeys(a.Keys)

	if isNextTabChord(modifiers, keys) {
		return c.nextTab(ctx)
	}

	var held []string
	var mods input.Modifier
	defer func() {
		releaseCtx := Detach(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			mods &^= modifierMask[held[i]]
			if upErr := c.driver.DispatchKeyEvent(releaseCtx, keyEvent(input.KeyUp, held[i], mods)); upErr != nil {
				c.logger.Warn("Failed to release modifier.", zap.String("key", held[i]), zap.Error(upErr))
				if err == nil {
					err = upErr
				}
			}
		}
	}()

	for _, m := range modifiers {
		mods |= modifierMask[m]
		if err := c.driver.DispatchKeyEvent(ctx, keyEvent(input.KeyDown, m, mods)); err != nil {
			return err
		}
		held = append(held, m)
	}
	for _, k := range keys {
		if err := c.pressKey(ctx, k, mods); err != nil {
			return err
		}
	}
	return nil
}

// isNextTabChord reports whether Control is held and Tab is among the
// ordinary keys. Any other keys in the chord are dropped.
func isNextTabChord(modifiers, keys []string) bool {
	return slices.Contains(modifiers, "Control") && slices.Contains(keys, "Tab")
}

// nextTab activates the tab after the active one in open order, wrapping.
func (c *Computer) nextTab(ctx context.Context) error {
	tabs, err := c.driver.Tabs(ctx)
	if err != nil {
		return err
	}
	if len(tabs) == 0 {
		return fmt.Errorf("no open tabs")
	}
	active := c.driver.ActiveTab()
	idx := 0
	for i, t := range tabs {
		if t.ID == active {
			idx = i
			break
		}
	}
	next := tabs[(idx+1)%len(tabs)]
	c.logger.Info("Switching to next tab.", zap.Int("from", idx), zap.String("url", next.URL))
	return c.driver.ActivateTab(ctx, next.ID)
}

// -- Navigation and timing --

func (c *Computer) wait(ctx context.Context, a schemas.Action) error {
	ms := a.MS
	if ms <= 0 {
		ms = defaultWaitMS
	}
	return c.driver.Sleep(ctx, time.Duration(ms)*time.Millisecond)
}

func (c *Computer) gotoURL(ctx context.Context, a schemas.Action) error {
	if a.URL == "" {
		return fmt.Errorf("goto requires a url")
	}
	return c.driver.Navigate(ctx, a.URL)
}

func (c *Computer) back(ctx context.Context, _ schemas.Action) error {
	return c.driver.NavigateBack(ctx)
}

// -- Side tools --

type selectorArgs struct {
	Selector  string `json:"selector" jsonschema:"required,description=CSS selector of the element whose text is returned"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"description=How long to wait for the element in milliseconds,default=10000"`
}

type noArgs struct{}

func (c *Computer) copyTextFromPage(ctx context.Context, _ json.RawMessage) (string, error) {
	var text string
	if err := c.driver.Evaluate(ctx, "document.body.innerText", &text); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// copyTextFromSelector waits for the element, reads innerText and falls back
// to a node text query when evaluation fails.
func (c *Computer) copyTextFromSelector(ctx context.Context, raw json.RawMessage) (string, error) {
	var args selectorArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", FuncCopyTextFromSelector, err)
	}
	if args.Selector == "" {
		return "", fmt.Errorf("%s requires a selector", FuncCopyTextFromSelector)
	}
	timeout := args.TimeoutMS
	if timeout <= 0 {
		timeout = defaultSelectorWaitMS
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()
	if err := c.driver.WaitVisible(waitCtx, args.Selector); err != nil {
		return "", fmt.Errorf("selector %q did not appear: %w", args.Selector, err)
	}

	quoted, _ := json.MarshalToString(args.Selector)
	var text string
	err := c.driver.Evaluate(ctx, fmt.Sprintf("document.querySelector(%s).innerText", quoted), &text)
	if err == nil {
		return text, nil
	}
	c.logger.Debug("innerText evaluation failed, querying node text.", zap.String("selector", args.Selector), zap.Error(err))

	text, err = c.driver.NodeText(ctx, args.Selector)
	if err != nil {
		return "", fmt.Errorf("failed to read text for %q: %w", args.Selector, err)
	}
	return text, nil
}

func (c *Computer) getCurrentURL(ctx context.Context, _ json.RawMessage) (string, error) {
	return c.driver.CurrentURL(ctx)
}

func (c *Computer) getTypedText(_ context.Context, _ json.RawMessage) (string, error) {
	return c.TypedText(), nil
}

// TypedText returns everything typed through the type action so far.
func (c *Computer) TypedText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typed.String()
}
