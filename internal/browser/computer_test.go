// internal/browser/computer_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
)

func setupComputer(t *testing.T) (*Computer, *fakeDriver) {
	t.Helper()
	driver := newFakeDriver()
	return NewComputer(driver, zaptest.NewLogger(t)), driver
}

func mouseEvents(events []recordedEvent) []recordedEvent {
	var out []recordedEvent
	for _, ev := range events {
		if ev.Kind == "mouse" {
			out = append(out, ev)
		}
	}
	return out
}

func TestComputer_Declaration(t *testing.T) {
	c, _ := setupComputer(t)
	w, h := c.Dimensions()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, h)
	assert.Equal(t, "browser", c.Environment())

	tools := c.Tools()
	require.Len(t, tools, 5)
	assert.Equal(t, schemas.ToolComputerUsePreview, tools[0].Type)
	assert.Equal(t, 1024, tools[0].DisplayWidth)

	names := make([]string, 0, len(tools)-1)
	for _, tool := range tools[1:] {
		assert.Equal(t, schemas.ToolFunction, tool.Type)
		assert.NotNil(t, tool.Parameters)
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		FuncCopyTextFromPage, FuncCopyTextFromSelector, FuncGetCurrentURL, FuncGetTypedText,
	}, names)

	schema := parametersSchema(&selectorArgs{})
	assert.Empty(t, schema.Version)
	assert.Contains(t, schema.Required, "selector")
}

func TestComputer_DisplaySizeFollowsViewport(t *testing.T) {
	c := NewComputer(newFakeDriver(), zaptest.NewLogger(t), WithDisplaySize(1280, 800))
	w, h := c.Dimensions()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 800, h)
	assert.Equal(t, 1280, c.Tools()[0].DisplayWidth)
	assert.Equal(t, 800, c.Tools()[0].DisplayHeight)

	c = NewComputer(newFakeDriver(), zaptest.NewLogger(t), WithDisplaySize(0, 800))
	w, h = c.Dimensions()
	assert.Equal(t, DisplayWidth, w)
	assert.Equal(t, DisplayHeight, h)
}

func TestComputer_UnsupportedAction(t *testing.T) {
	c, driver := setupComputer(t)
	err := c.Execute(context.Background(), schemas.Action{Type: "teleport"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.Empty(t, driver.recorded())
}

func TestComputer_Click(t *testing.T) {
	testCases := []struct {
		name   string
		button schemas.Button
		want   input.MouseButton
	}{
		{"default is left", "", input.Left},
		{"left", schemas.ButtonLeft, input.Left},
		{"right", schemas.ButtonRight, input.Right},
		{"wheel maps to middle", schemas.ButtonWheel, input.Middle},
		{"back", schemas.ButtonBack, input.Back},
		{"forward", schemas.ButtonForward, input.Forward},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, driver := setupComputer(t)
			require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick, X: 10, Y: 20, Button: tc.button}))

			events := mouseEvents(driver.recorded())
			require.Len(t, events, 3)
			assert.Equal(t, string(input.MouseMoved), events[0].Type)
			assert.Equal(t, string(input.MousePressed), events[1].Type)
			assert.Equal(t, string(input.MouseReleased), events[2].Type)
			for _, ev := range events[1:] {
				assert.Equal(t, tc.want, ev.Button)
				assert.Equal(t, 10.0, ev.X)
				assert.Equal(t, 20.0, ev.Y)
			}
		})
	}
}

func TestComputer_DoubleClick(t *testing.T) {
	c, driver := setupComputer(t)
	require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionDoubleClick, X: 5, Y: 6}))
	events := mouseEvents(driver.recorded())
	require.Len(t, events, 5)
	assert.Equal(t, string(input.MousePressed), events[3].Type)
}

func TestComputer_Scroll(t *testing.T) {
	t.Run("native wheel", func(t *testing.T) {
		c, driver := setupComputer(t)
		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionScroll, X: 100, Y: 200, ScrollY: 300}))

		events := driver.recorded()
		require.Len(t, events, 3)
		assert.Equal(t, string(input.MouseWheel), events[1].Type)
		assert.Equal(t, "sleep", events[2].Kind)
		assert.Equal(t, 500*time.Millisecond, events[2].Delay)
	})

	t.Run("falls back to scrollBy", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.failOn = func(ev recordedEvent) error {
			if ev.Type == string(input.MouseWheel) {
				return errors.New("wheel unsupported")
			}
			return nil
		}
		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionScroll, X: 1, Y: 2, ScrollX: -40, ScrollY: 120}))

		events := driver.recorded()
		require.Len(t, events, 3)
		assert.Equal(t, "eval", events[1].Kind)
		assert.Equal(t, "window.scrollBy(-40, 120)", events[1].Text)
		assert.Equal(t, 500*time.Millisecond, events[2].Delay)
	})

	t.Run("fallback failure surfaces", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.failOn = func(ev recordedEvent) error {
			if ev.Kind == "mouse" || ev.Kind == "eval" {
				return errors.New("page gone")
			}
			return nil
		}
		err := c.Execute(context.Background(), schemas.Action{Type: schemas.ActionScroll})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scroll fallback failed")
	})
}

func TestComputer_Drag(t *testing.T) {
	t.Run("presses, moves through the path and releases", func(t *testing.T) {
		c, driver := setupComputer(t)
		path := []schemas.Point{{X: 1, Y: 1}, {X: 5, Y: 5}, {X: 9, Y: 3}}
		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionDrag, Path: path}))

		events := mouseEvents(driver.recorded())
		require.Len(t, events, 5)
		assert.Equal(t, string(input.MousePressed), events[1].Type)
		assert.Equal(t, string(input.MouseMoved), events[2].Type)
		assert.Equal(t, string(input.MouseReleased), events[4].Type)
		assert.Equal(t, 9.0, events[4].X)
	})

	t.Run("releases after a failed move", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.failOn = func(ev recordedEvent) error {
			if ev.Type == string(input.MouseMoved) && ev.X == 5 {
				return errors.New("detached")
			}
			return nil
		}
		err := c.Execute(context.Background(), schemas.Action{Type: schemas.ActionDrag, Path: []schemas.Point{{X: 1, Y: 1}, {X: 5, Y: 5}}})
		require.Error(t, err)

		events := mouseEvents(driver.recorded())
		last := events[len(events)-1]
		assert.Equal(t, string(input.MouseReleased), last.Type)
		assert.Equal(t, 1.0, last.X)
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		c, _ := setupComputer(t)
		assert.Error(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionDrag}))
	})
}

func TestComputer_TypeAndTypedText(t *testing.T) {
	c, driver := setupComputer(t)
	ctx := context.Background()
	require.NoError(t, c.Execute(ctx, schemas.Action{Type: schemas.ActionTypeText, Text: "hello\nworld"}))
	require.NoError(t, c.Execute(ctx, schemas.Action{Type: schemas.ActionTypeText, Text: "!"}))

	events := driver.recorded()
	require.Len(t, events, 5)
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, "Enter", events[1].Key)
	assert.Equal(t, "world", events[3].Text)

	out, err := c.CallFunction(ctx, FuncGetTypedText, "")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld!", out)
}

func TestComputer_Wait(t *testing.T) {
	c, driver := setupComputer(t)
	require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionWait}))
	require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionWait, MS: 250}))

	events := driver.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, time.Second, events[0].Delay)
	assert.Equal(t, 250*time.Millisecond, events[1].Delay)
}

func TestComputer_Navigation(t *testing.T) {
	c, driver := setupComputer(t)
	ctx := context.Background()
	require.NoError(t, c.Execute(ctx, schemas.Action{Type: schemas.ActionGoto, URL: "https://example.com"}))
	require.NoError(t, c.Execute(ctx, schemas.Action{Type: schemas.ActionBack}))
	assert.Error(t, c.Execute(ctx, schemas.Action{Type: schemas.ActionGoto}))

	url, err := c.CallFunction(ctx, FuncGetCurrentURL, "{}")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", url)

	events := driver.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, "back", events[1].Kind)
}

func TestComputer_Keypress(t *testing.T) {
	t.Run("modifiers wrap ordinary keys", func(t *testing.T) {
		c, driver := setupComputer(t)
		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"CTRL", "a"}}))

		keys := driver.keyEvents()
		require.Len(t, keys, 4)
		assert.Equal(t, recordedEvent{Kind: "key", Type: string(input.KeyDown), Key: "Control", Mods: input.ModifierCtrl}, keys[0])
		assert.Equal(t, "a", keys[1].Key)
		assert.Empty(t, keys[1].Text, "shortcuts must not insert text")
		assert.Equal(t, input.ModifierCtrl, keys[1].Mods)
		assert.Equal(t, string(input.KeyUp), keys[3].Type)
		assert.Equal(t, "Control", keys[3].Key)
	})

	t.Run("plain enter carries text", func(t *testing.T) {
		c, driver := setupComputer(t)
		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"enter"}}))
		keys := driver.keyEvents()
		require.Len(t, keys, 2)
		assert.Equal(t, "Enter", keys[0].Key)
		assert.Equal(t, "\r", keys[0].Text)
	})

	t.Run("ctrl+tab switches to the next tab", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.tabs = []Tab{{ID: "t0"}, {ID: "t1"}, {ID: "t2"}}
		driver.active = "t2"

		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"ctrl", "tab"}}))
		assert.Equal(t, "t0", driver.ActiveTab())
		assert.Empty(t, driver.keyEvents())

		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"Tab", "CTRL"}}))
		assert.Equal(t, "t1", driver.ActiveTab())
	})

	t.Run("ctrl+tab among other keys still switches", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.tabs = []Tab{{ID: "t0"}, {ID: "t1"}}

		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"ctrl", "shift", "tab"}}))
		assert.Equal(t, "t1", driver.ActiveTab())

		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"ctrl", "a", "tab"}}))
		assert.Equal(t, "t0", driver.ActiveTab())
		assert.Empty(t, driver.keyEvents())
	})

	t.Run("tab without control is a key press", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.tabs = []Tab{{ID: "t0"}, {ID: "t1"}}

		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"shift", "tab"}}))
		assert.Equal(t, "t0", driver.ActiveTab())
		assert.NotEmpty(t, driver.keyEvents())
	})

	t.Run("ctrl+tab with a single tab stays put", func(t *testing.T) {
		c, driver := setupComputer(t)
		require.NoError(t, c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: []string{"ctrl", "tab"}}))
		assert.Equal(t, "t0", driver.ActiveTab())
		assert.Empty(t, driver.keyEvents())
	})
}

var keyNames = []string{"ctrl", "alt", "shift", "cmd", "super", "option", "a", "b", "enter", "tab", "esc", "space", "arrowleft", "/", "F5"}

// Every held modifier is released after the last ordinary key, even when a
// press fails part way through.
func TestComputer_KeypressModifierOrdering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfN(rapid.SampledFrom(keyNames), 1, 6).Draw(rt, "keys")
		failAt := rapid.IntRange(-1, 12).Draw(rt, "failAt")

		modifiers, keys := SplitKeys(names)
		if isNextTabChord(modifiers, keys) {
			return
		}

		driver := newFakeDriver()
		downs := 0
		driver.failOn = func(ev recordedEvent) error {
			if ev.Kind == "key" && ev.Type == string(input.KeyDown) {
				if downs == failAt {
					downs++
					return errors.New("injected")
				}
				downs++
			}
			return nil
		}
		c := NewComputer(driver, zaptest.NewLogger(t))
		_ = c.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeypress, Keys: names})

		events := driver.keyEvents()
		held := map[string]int{}
		lastOrdinary := -1
		for i, ev := range events {
			if IsModifier(ev.Key) {
				if ev.Type == string(input.KeyDown) {
					held[ev.Key]++
					if lastOrdinary >= 0 {
						rt.Fatalf("modifier %s pressed after an ordinary key", ev.Key)
					}
				} else {
					held[ev.Key]--
				}
			} else if ev.Type == string(input.KeyDown) {
				lastOrdinary = i
			}
		}
		for key, n := range held {
			if n != 0 {
				rt.Fatalf("modifier %s left pressed (%d)", key, n)
			}
		}
		if lastOrdinary >= 0 {
			for _, ev := range events[:lastOrdinary] {
				if IsModifier(ev.Key) && ev.Type == string(input.KeyUp) {
					rt.Fatalf("modifier %s released before the last key", ev.Key)
				}
			}
		}
	})
}

func TestComputer_CopyTextFromSelector(t *testing.T) {
	ctx := context.Background()

	t.Run("innerText", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.evalResults[`document.querySelector("#total").innerText`] = "42"
		out, err := c.CallFunction(ctx, FuncCopyTextFromSelector, `{"selector":"#total"}`)
		require.NoError(t, err)
		assert.Equal(t, "42", out)
	})

	t.Run("falls back to node text", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.nodeText["#total"] = "43"
		out, err := c.CallFunction(ctx, FuncCopyTextFromSelector, `{"selector":"#total","timeout_ms":50}`)
		require.NoError(t, err)
		assert.Equal(t, "43", out)
	})

	t.Run("missing element", func(t *testing.T) {
		c, driver := setupComputer(t)
		driver.waitErr = context.DeadlineExceeded
		_, err := c.CallFunction(ctx, FuncCopyTextFromSelector, `{"selector":"#gone"}`)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("selector required", func(t *testing.T) {
		c, _ := setupComputer(t)
		_, err := c.CallFunction(ctx, FuncCopyTextFromSelector, `{}`)
		assert.Error(t, err)
	})
}

func TestComputer_CallFunction(t *testing.T) {
	ctx := context.Background()
	c, driver := setupComputer(t)
	driver.evalResults["document.body.innerText"] = "page text"

	assert.True(t, c.HasFunction(FuncCopyTextFromPage))
	assert.True(t, c.HasFunction("click"))
	assert.False(t, c.HasFunction("delete_everything"))

	out, err := c.CallFunction(ctx, FuncCopyTextFromPage, "")
	require.NoError(t, err)
	assert.Equal(t, "page text", out)

	_, err = c.CallFunction(ctx, "goto", `{"url":"https://example.org"}`)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", driver.url)

	_, err = c.CallFunction(ctx, "delete_everything", "{}")
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}
