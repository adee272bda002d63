package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// -- Conversation Item Schemas --

// ItemType is the discriminator of a conversation item.
type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
	ItemComputerCall       ItemType = "computer_call"
	ItemComputerCallOutput ItemType = "computer_call_output"
	ItemReasoning          ItemType = "reasoning"
)

// Role identifies who authored a message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// Content part types used inside message items.
const (
	ContentInputText  = "input_text"
	ContentOutputText = "output_text"
	ContentInputImage = "input_image"
)

// FunctionCallSuccess is the fixed output reported for every executed function call.
const FunctionCallSuccess = "success"

// ContentPart is a single element of a message's content list.
type ContentPart struct {
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Contents is a message content list. The wire format allows a bare string
// in place of the list; it decodes into a single text part.
type Contents []ContentPart

// UnmarshalJSON accepts either a JSON string or a list of content parts.
func (c *Contents) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = nil
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Contents{{Type: ContentInputText, Text: s}}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return fmt.Errorf("content must be a string or a list of parts: %w", err)
	}
	*c = parts
	return nil
}

// SafetyCheck is a model-flagged risk attached to a computer call.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ImageOutput is the observation payload of a computer call output.
type ImageOutput struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

// Item is the canonical conversation item. All model responses are decoded
// into this shape; downstream code never sees another representation.
//
// Items decoded from the wire remember their original bytes and re-encode
// verbatim, so fields this struct does not model (reasoning summaries,
// annotations) survive a replay to the model.
type Item struct {
	Type   ItemType `json:"type"`
	ID     string   `json:"id,omitempty"`
	Status string   `json:"status,omitempty"`

	// message
	Role    Role     `json:"role,omitempty"`
	Content Contents `json:"content,omitempty"`

	// function_call
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// *_call and *_call_output
	CallID string `json:"call_id,omitempty"`

	// computer_call
	Action              *Action       `json:"action,omitempty"`
	PendingSafetyChecks []SafetyCheck `json:"pending_safety_checks,omitempty"`

	// computer_call_output
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`

	// Output is a JSON string for function_call_output and an ImageOutput
	// object for computer_call_output.
	Output json.RawMessage `json:"output,omitempty"`

	raw []byte
}

// itemAlias strips the custom (un)marshalers from Item.
type itemAlias Item

// itemWire adds the singular safety-check field some responses carry.
type itemWire struct {
	itemAlias
	PendingSafetyCheck  json.RawMessage `json:"pending_safety_check,omitempty"`
	PendingSafetyChecks json.RawMessage `json:"pending_safety_checks,omitempty"`
}

// UnmarshalJSON decodes an item and merges pending safety checks from both
// the singular and plural fields, each of which may be a list or an object.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w itemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Item(w.itemAlias)

	singular, err := decodeSafetyChecks(w.PendingSafetyCheck)
	if err != nil {
		return fmt.Errorf("invalid pending_safety_check: %w", err)
	}
	plural, err := decodeSafetyChecks(w.PendingSafetyChecks)
	if err != nil {
		return fmt.Errorf("invalid pending_safety_checks: %w", err)
	}
	out.PendingSafetyChecks = mergeSafetyChecks(singular, plural)

	out.raw = append([]byte(nil), data...)
	*it = out
	return nil
}

// MarshalJSON re-emits the original bytes for decoded items and the struct
// fields for items built locally.
func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.raw) > 0 {
		return it.raw, nil
	}
	return json.Marshal(itemAlias(it))
}

// decodeSafetyChecks accepts a single check object, a list of checks, or nothing.
func decodeSafetyChecks(data json.RawMessage) ([]SafetyCheck, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var checks []SafetyCheck
		if err := json.Unmarshal(trimmed, &checks); err != nil {
			return nil, err
		}
		return checks, nil
	}
	var check SafetyCheck
	if err := json.Unmarshal(trimmed, &check); err != nil {
		return nil, err
	}
	return []SafetyCheck{check}, nil
}

// mergeSafetyChecks concatenates check lists, dropping repeated non-empty ids.
func mergeSafetyChecks(lists ...[]SafetyCheck) []SafetyCheck {
	var merged []SafetyCheck
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, c := range list {
			if c.ID != "" {
				if _, dup := seen[c.ID]; dup {
					continue
				}
				seen[c.ID] = struct{}{}
			}
			merged = append(merged, c)
		}
	}
	return merged
}

// -- Item helpers --

// WithRole returns a copy of a message item attributed to role. The copy
// re-encodes from its fields.
func (it Item) WithRole(role Role) Item {
	it.Role = role
	it.raw = nil
	return it
}

// IsTerminal reports whether the item is an assistant message, which ends a turn.
func (it Item) IsTerminal() bool {
	return it.Type == ItemMessage && it.Role == RoleAssistant
}

// Text joins the text parts of a message item.
func (it Item) Text() string {
	var sb strings.Builder
	for _, part := range it.Content {
		if part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// OutputImage decodes the image payload of a computer_call_output item.
func (it Item) OutputImage() (ImageOutput, bool) {
	var img ImageOutput
	if it.Type != ItemComputerCallOutput || len(it.Output) == 0 {
		return img, false
	}
	if err := json.Unmarshal(it.Output, &img); err != nil {
		return img, false
	}
	return img, true
}

// OutputText decodes the string payload of a function_call_output item.
func (it Item) OutputText() string {
	var s string
	if err := json.Unmarshal(it.Output, &s); err != nil {
		return ""
	}
	return s
}

// NewUserMessage builds a user message item.
func NewUserMessage(text string) Item {
	return Item{
		Type:    ItemMessage,
		Role:    RoleUser,
		Content: Contents{{Type: ContentInputText, Text: text}},
	}
}

// NewAssistantMessage builds an assistant message item.
func NewAssistantMessage(text string) Item {
	return Item{
		Type:    ItemMessage,
		Role:    RoleAssistant,
		Content: Contents{{Type: ContentOutputText, Text: text}},
	}
}

// NewFunctionCallOutput builds the result item for a function call.
func NewFunctionCallOutput(callID, output string) Item {
	encoded, _ := json.Marshal(output)
	return Item{
		Type:   ItemFunctionCallOutput,
		CallID: callID,
		Output: encoded,
	}
}

// NewComputerCallOutput builds the observation item for a computer call.
// imageURL must already hold a redacted frame.
func NewComputerCallOutput(callID, imageURL string, acknowledged []SafetyCheck) Item {
	encoded, _ := json.Marshal(ImageOutput{Type: ContentInputImage, ImageURL: imageURL})
	return Item{
		Type:                     ItemComputerCallOutput,
		CallID:                   callID,
		AcknowledgedSafetyChecks: acknowledged,
		Output:                   encoded,
	}
}
