// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/browser"
	"github.com/xkilldash9x/scalpel-cua/internal/llmclient"
)

// ErrorCode classifies turn failures for observers and transports.
type ErrorCode string

const (
	ErrCodeGatewayFailure      ErrorCode = "GATEWAY_FAILURE"
	ErrCodeProtocol            ErrorCode = "PROTOCOL_ERROR"
	ErrCodeUnsupportedAction   ErrorCode = "UNSUPPORTED_ACTION"
	ErrCodeExecutionFailure    ErrorCode = "EXECUTION_FAILURE"
	ErrCodeFunctionFailure     ErrorCode = "FUNCTION_FAILURE"
	ErrCodeRedactionFailure    ErrorCode = "REDACTION_FAILURE"
	ErrCodeSafetyCheckRejected ErrorCode = "SAFETY_CHECK_REJECTED"
	ErrCodeMaxRounds           ErrorCode = "MAX_ROUNDS_EXCEEDED"
	ErrCodeCancelled           ErrorCode = "CANCELLED"
)

// ErrProtocol is returned when the model replies without any output items
// or with items that cannot be acted on.
var ErrProtocol = errors.New("protocol error")

// ErrMaxRounds is returned when a turn exceeds the configured round limit.
var ErrMaxRounds = errors.New("turn exceeded the maximum number of rounds")

// SafetyCheckRejectedError reports a pending safety check the acknowledgment
// policy declined. No output item is produced for the call.
type SafetyCheckRejectedError struct {
	CallID string
	Check  schemas.SafetyCheck
}

func (e *SafetyCheckRejectedError) Error() string {
	return fmt.Sprintf("safety check %q rejected for call %s: %s", e.Check.ID, e.CallID, e.Check.Message)
}

// ClassifyError maps a turn error to its code.
func ClassifyError(err error) ErrorCode {
	var rejected *SafetyCheckRejectedError
	var gerr *llmclient.GatewayError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		return ErrCodeSafetyCheckRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	case errors.As(err, &gerr):
		return ErrCodeGatewayFailure
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocol
	case errors.Is(err, browser.ErrUnsupportedAction):
		return ErrCodeUnsupportedAction
	case errors.Is(err, ErrMaxRounds):
		return ErrCodeMaxRounds
	case errors.Is(err, errRedaction):
		return ErrCodeRedactionFailure
	case errors.Is(err, errFunction):
		return ErrCodeFunctionFailure
	}
	return ErrCodeExecutionFailure
}

var (
	errRedaction = errors.New("redaction failed")
	errFunction  = errors.New("function call failed")
)
