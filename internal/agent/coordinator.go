// internal/agent/coordinator.go
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/llmclient"
)

const defaultModel = "computer-use-preview"

// Coordinator runs turns: it alternates model calls with action execution
// until the model answers with an assistant message.
type Coordinator struct {
	gateway  Gateway
	computer Computer
	redactor Redactor
	logger   *zap.Logger

	model     string
	maxRounds int
	ack       Acknowledger
	observer  Observer
	frames    FrameSink

	// mu serializes turns; the page cannot take interleaved actions.
	mu sync.Mutex

	respMu         sync.RWMutex
	lastResponseID string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithModel sets the model name sent with every request.
func WithModel(model string) Option {
	return func(c *Coordinator) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxRounds bounds the gateway calls per turn. Zero means unbounded.
func WithMaxRounds(n int) Option {
	return func(c *Coordinator) { c.maxRounds = n }
}

// WithAcknowledger sets the safety check policy. Without one every check is declined.
func WithAcknowledger(ack Acknowledger) Option {
	return func(c *Coordinator) { c.ack = ack }
}

// WithObserver receives turn events.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithFrameSink stores a copy of each redacted frame.
func WithFrameSink(s FrameSink) Option {
	return func(c *Coordinator) { c.frames = s }
}

// NewCoordinator creates a turn coordinator.
func NewCoordinator(gateway Gateway, computer Computer, redactor Redactor, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		gateway:  gateway,
		computer: computer,
		redactor: redactor,
		logger:   logger.Named("agent"),
		model:    defaultModel,
		ack:      func(string) bool { return false },
		observer: ObserverFunc(func(Event) {}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastResponseID returns the id of the most recent model response.
func (c *Coordinator) LastResponseID() string {
	c.respMu.RLock()
	defer c.respMu.RUnlock()
	return c.lastResponseID
}

// SetLastResponseID restores the response id of a resumed session.
func (c *Coordinator) SetLastResponseID(id string) {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	c.lastResponseID = id
}

// RunTurn drives the model from history until it produces a terminal
// assistant message and returns the items produced along the way. On a
// fatal error the items produced so far are returned with the error.
func (c *Coordinator) RunTurn(ctx context.Context, history []schemas.Item) ([]schemas.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	produced, err := c.runTurn(ctx, history)
	if err != nil {
		code := ClassifyError(err)
		c.logger.Error("Turn failed.", zap.String("code", string(code)), zap.Int("produced", len(produced)), zap.Error(err))
		ev := newEvent(EventTurnFailed)
		ev.Code = code
		ev.Err = err
		ev.Text = err.Error()
		c.observer.Observe(ev)
	}
	return produced, err
}

func (c *Coordinator) runTurn(ctx context.Context, history []schemas.Item) ([]schemas.Item, error) {
	var produced []schemas.Item
	tools := c.computer.Tools()

	for round := 1; !isTerminal(produced); round++ {
		if err := ctx.Err(); err != nil {
			return produced, err
		}
		if c.maxRounds > 0 && round > c.maxRounds {
			return produced, fmt.Errorf("%w (%d)", ErrMaxRounds, c.maxRounds)
		}

		input := make([]schemas.Item, 0, len(history)+len(produced))
		input = append(append(input, history...), produced...)

		resp, err := c.gateway.CreateResponse(ctx, llmclient.Request{
			Model:      c.model,
			Input:      input,
			Tools:      tools,
			Truncation: llmclient.TruncationAuto,
		})
		if err != nil {
			return produced, fmt.Errorf("model call failed in round %d: %w", round, err)
		}
		if resp.ID != "" {
			c.SetLastResponseID(resp.ID)
		}
		if len(resp.Output) == 0 {
			return produced, fmt.Errorf("%w: response %s carried no output items", ErrProtocol, resp.ID)
		}

		c.logger.Debug("Processing model output.", zap.Int("round", round), zap.Int("items", len(resp.Output)))
		produced = append(produced, resp.Output...)
		for _, item := range resp.Output {
			results, err := c.handleItem(ctx, item)
			if err != nil {
				return produced, err
			}
			produced = append(produced, results...)
		}
	}
	return produced, nil
}

// isTerminal reports whether the last produced item is an assistant message.
func isTerminal(produced []schemas.Item) bool {
	return len(produced) > 0 && produced[len(produced)-1].IsTerminal()
}

func (c *Coordinator) handleItem(ctx context.Context, item schemas.Item) ([]schemas.Item, error) {
	switch item.Type {
	case schemas.ItemMessage:
		ev := newEvent(EventAssistantMessage)
		ev.Text = item.Text()
		c.observer.Observe(ev)
		return nil, nil
	case schemas.ItemFunctionCall:
		return c.handleFunctionCall(ctx, item)
	case schemas.ItemComputerCall:
		return c.handleComputerCall(ctx, item)
	default:
		return nil, nil
	}
}

// handleFunctionCall invokes a side-tool. Unknown names produce nothing.
func (c *Coordinator) handleFunctionCall(ctx context.Context, item schemas.Item) ([]schemas.Item, error) {
	if !c.computer.HasFunction(item.Name) {
		c.logger.Info("Ignoring call to unknown function.", zap.String("name", item.Name), zap.String("call_id", item.CallID))
		return nil, nil
	}

	out, err := c.computer.CallFunction(ctx, item.Name, item.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: %s(%s): %w", errFunction, item.Name, item.CallID, err)
	}

	ev := newEvent(EventFunctionCall)
	ev.CallID = item.CallID
	ev.Text = fmt.Sprintf("%s(%s) -> %s", item.Name, item.Arguments, out)
	c.observer.Observe(ev)

	return []schemas.Item{schemas.NewFunctionCallOutput(item.CallID, schemas.FunctionCallSuccess)}, nil
}

// handleComputerCall executes the action, captures and redacts a frame,
// then gates on every pending safety check before producing the output.
func (c *Coordinator) handleComputerCall(ctx context.Context, item schemas.Item) ([]schemas.Item, error) {
	if item.Action == nil {
		return nil, fmt.Errorf("%w: computer_call %s has no action", ErrProtocol, item.CallID)
	}
	action := *item.Action

	ev := newEvent(EventComputerCall)
	ev.CallID = item.CallID
	ev.Action = &action
	c.observer.Observe(ev)

	if err := c.computer.Execute(ctx, action); err != nil {
		return nil, fmt.Errorf("computer_call %s: %w", item.CallID, err)
	}

	raw, err := c.computer.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("computer_call %s: %w", item.CallID, err)
	}
	frame, err := c.redactor.Redact(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: computer_call %s: %w", errRedaction, item.CallID, err)
	}

	if c.frames != nil {
		if err := c.frames.WriteFrame(item.CallID, frame); err != nil {
			c.logger.Warn("Failed to store redacted frame.", zap.String("call_id", item.CallID), zap.Error(err))
		}
	}

	checks := item.PendingSafetyChecks
	for _, check := range checks {
		sev := newEvent(EventSafetyCheck)
		sev.CallID = item.CallID
		sev.Text = check.Message
		c.observer.Observe(sev)

		if !c.ack(check.Message) {
			return nil, &SafetyCheckRejectedError{CallID: item.CallID, Check: check}
		}
		c.logger.Info("Safety check acknowledged.", zap.String("call_id", item.CallID), zap.String("check_id", check.ID))
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(frame)
	return []schemas.Item{schemas.NewComputerCallOutput(item.CallID, imageURL, checks)}, nil
}
