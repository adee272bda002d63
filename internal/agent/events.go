// internal/agent/events.go
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
)

// EventType names what happened during a turn.
type EventType string

const (
	EventAssistantMessage EventType = "ASSISTANT_MESSAGE"
	EventFunctionCall     EventType = "FUNCTION_CALL"
	EventComputerCall     EventType = "COMPUTER_CALL"
	EventSafetyCheck      EventType = "SAFETY_CHECK"
	EventTurnFailed       EventType = "TURN_FAILED"
)

// Event is delivered to the Observer as a turn progresses.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	CallID    string
	Text      string
	Action    *schemas.Action
	Code      ErrorCode
	Err       error
}

// Observer receives turn events. Implementations must not block for long;
// the coordinator calls them inline.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

func newEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Timestamp: time.Now().UTC(), Type: t}
}
