// internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/llmclient"
)

// Gateway sends the conversation to the model.
type Gateway interface {
	CreateResponse(ctx context.Context, req llmclient.Request) (*llmclient.Response, error)
}

// Computer executes actions and side-tool functions against the page.
type Computer interface {
	Execute(ctx context.Context, action schemas.Action) error
	Screenshot(ctx context.Context) ([]byte, error)
	HasFunction(name string) bool
	CallFunction(ctx context.Context, name, arguments string) (string, error)
	Tools() []schemas.Tool
}

// Redactor masks sensitive content in an encoded frame.
type Redactor interface {
	Redact(frame []byte) ([]byte, error)
}

// Acknowledger decides whether a pending safety check may proceed. It is
// called once per check with the check's message.
type Acknowledger func(message string) bool

// FrameSink receives every redacted frame. Raw frames never reach it.
type FrameSink interface {
	WriteFrame(callID string, frame []byte) error
}
