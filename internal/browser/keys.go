// internal/browser/keys.go
package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

// cuaKeyToCDPKey maps the model's lowercase key vocabulary to DOM key values.
// Lookup is case-insensitive; names not listed pass through unchanged.
var cuaKeyToCDPKey = map[string]string{
	"/":          "Divide",
	"\\":         "Backslash",
	"alt":        "Alt",
	"arrowdown":  "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"arrowright": "ArrowRight",
	"arrowup":    "ArrowUp",
	"backspace":  "Backspace",
	"capslock":   "CapsLock",
	"cmd":        "Meta",
	"ctrl":       "Control",
	"delete":     "Delete",
	"end":        "End",
	"enter":      "Enter",
	"esc":        "Escape",
	"home":       "Home",
	"insert":     "Insert",
	"option":     "Alt",
	"pagedown":   "PageDown",
	"pageup":     "PageUp",
	"shift":      "Shift",
	"space":      " ",
	"super":      "Meta",
	"tab":        "Tab",
	"win":        "Meta",
}

// modifierMask holds the CDP modifier bit of each modifier key.
var modifierMask = map[string]input.Modifier{
	"Alt":     input.ModifierAlt,
	"Control": input.ModifierCtrl,
	"Meta":    input.ModifierMeta,
	"Shift":   input.ModifierShift,
}

// keyDef describes how a named key is reported to the page.
type keyDef struct {
	key  string
	code string
	vk   int64
	text string
}

var namedKeys = map[string]keyDef{
	"Enter":      {key: "Enter", code: "Enter", vk: 13, text: "\r"},
	"Tab":        {key: "Tab", code: "Tab", vk: 9},
	"Backspace":  {key: "Backspace", code: "Backspace", vk: 8},
	"Escape":     {key: "Escape", code: "Escape", vk: 27},
	"Delete":     {key: "Delete", code: "Delete", vk: 46},
	"Insert":     {key: "Insert", code: "Insert", vk: 45},
	"Home":       {key: "Home", code: "Home", vk: 36},
	"End":        {key: "End", code: "End", vk: 35},
	"PageUp":     {key: "PageUp", code: "PageUp", vk: 33},
	"PageDown":   {key: "PageDown", code: "PageDown", vk: 34},
	"ArrowLeft":  {key: "ArrowLeft", code: "ArrowLeft", vk: 37},
	"ArrowUp":    {key: "ArrowUp", code: "ArrowUp", vk: 38},
	"ArrowRight": {key: "ArrowRight", code: "ArrowRight", vk: 39},
	"ArrowDown":  {key: "ArrowDown", code: "ArrowDown", vk: 40},
	"CapsLock":   {key: "CapsLock", code: "CapsLock", vk: 20},
	"Control":    {key: "Control", code: "ControlLeft", vk: 17},
	"Alt":        {key: "Alt", code: "AltLeft", vk: 18},
	"Shift":      {key: "Shift", code: "ShiftLeft", vk: 16},
	"Meta":       {key: "Meta", code: "MetaLeft", vk: 91},
	"Divide":     {key: "/", code: "NumpadDivide", vk: 111, text: "/"},
	"Backslash":  {key: "\\", code: "Backslash", vk: 220, text: "\\"},
	" ":          {key: " ", code: "Space", vk: 32, text: " "},
}

func init() {
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("F%d", i)
		namedKeys[name] = keyDef{key: name, code: name, vk: int64(111 + i)}
	}
}

// MapKey translates a model key name to its DOM key value.
func MapKey(name string) string {
	if mapped, ok := cuaKeyToCDPKey[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

// IsModifier reports whether a mapped key is one of Control, Alt, Shift or Meta.
func IsModifier(key string) bool {
	_, ok := modifierMask[key]
	return ok
}

// SplitKeys maps names and separates modifiers from ordinary keys, keeping
// the order of each group.
func SplitKeys(names []string) (modifiers, keys []string) {
	for _, name := range names {
		mapped := MapKey(name)
		if IsModifier(mapped) {
			modifiers = append(modifiers, mapped)
		} else {
			keys = append(keys, mapped)
		}
	}
	return modifiers, keys
}

// lookupKey resolves a mapped key to its event description. Single
// characters use the chromedp US keyboard layout.
func lookupKey(key string) keyDef {
	if def, ok := namedKeys[key]; ok {
		return def
	}
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		if k, ok := kb.Keys[r]; ok {
			return keyDef{key: k.Key, code: k.Code, vk: k.Windows, text: k.Text}
		}
		return keyDef{key: key, text: key}
	}
	return keyDef{key: key}
}

// keyEvent builds a key event for key. Text is only attached to key downs
// without command modifiers, so shortcuts never insert characters.
func keyEvent(typ input.KeyType, key string, mods input.Modifier) *input.DispatchKeyEventParams {
	def := lookupKey(key)
	p := input.DispatchKeyEvent(typ).
		WithKey(def.key).
		WithModifiers(mods)
	if def.code != "" {
		p = p.WithCode(def.code)
	}
	if def.vk != 0 {
		p = p.WithWindowsVirtualKeyCode(def.vk).WithNativeVirtualKeyCode(def.vk)
	}
	commandHeld := mods&(input.ModifierCtrl|input.ModifierAlt|input.ModifierMeta) != 0
	if typ == input.KeyDown && def.text != "" && !commandHeld {
		p = p.WithText(def.text).WithUnmodifiedText(def.text)
	}
	return p
}
