package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// -- Computer Action Schemas --

// ActionType names one entry of the fixed computer action vocabulary.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionDoubleClick ActionType = "double_click"
	ActionScroll      ActionType = "scroll"
	ActionTypeText    ActionType = "type"
	ActionWait        ActionType = "wait"
	ActionMove        ActionType = "move"
	ActionKeypress    ActionType = "keypress"
	ActionDrag        ActionType = "drag"
	ActionGoto        ActionType = "goto"
	ActionBack        ActionType = "back"
	ActionScreenshot  ActionType = "screenshot"
)

// Button is a mouse button a click action may name.
type Button string

const (
	ButtonLeft    Button = "left"
	ButtonRight   Button = "right"
	ButtonMiddle  Button = "middle"
	ButtonWheel   Button = "wheel"
	ButtonBack    Button = "back"
	ButtonForward Button = "forward"
)

// Action is the descriptor of a single computer call. Which fields are
// meaningful depends on Type.
type Action struct {
	Type    ActionType `json:"type"`
	X       int        `json:"x,omitempty"`
	Y       int        `json:"y,omitempty"`
	Button  Button     `json:"button,omitempty"`
	ScrollX int        `json:"scroll_x,omitempty"`
	ScrollY int        `json:"scroll_y,omitempty"`
	Text    string     `json:"text,omitempty"`
	Keys    []string   `json:"keys,omitempty"`
	Path    []Point    `json:"path,omitempty"`
	URL     string     `json:"url,omitempty"`
	// MS is the wait duration in milliseconds. Zero selects the default.
	MS int `json:"ms,omitempty"`
}

// Point is a viewport coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// UnmarshalJSON accepts either {"x":..,"y":..} or a [x, y] pair. Fractional
// coordinates are rounded to the nearest pixel.
func (p *Point) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty point")
	}
	switch trimmed[0] {
	case '[':
		var pair []float64
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return fmt.Errorf("invalid point pair: %w", err)
		}
		if len(pair) < 2 {
			return fmt.Errorf("point pair needs two coordinates, got %d", len(pair))
		}
		p.X, p.Y = roundCoord(pair[0]), roundCoord(pair[1])
		return nil
	case '{':
		var obj struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("invalid point object: %w", err)
		}
		p.X, p.Y = roundCoord(obj.X), roundCoord(obj.Y)
		return nil
	default:
		return fmt.Errorf("point must be an object or a pair, got %s", string(trimmed))
	}
}

func roundCoord(v float64) int {
	return int(math.Round(v))
}
