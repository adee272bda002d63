// internal/session/console.go
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/internal/agent"
)

// Console is the terminal side of an interactive session. It reads user
// lines, answers safety check prompts, and prints turn events.
type Console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewConsole wraps the given input and output.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Printf writes a formatted line.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Prompt prints prompt and reads one trimmed line. io.EOF is returned once
// input is exhausted and no partial line remains.
func (c *Console) Prompt(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Acknowledge asks the user about a safety check. Anything but y/yes declines.
func (c *Console) Acknowledge(message string) bool {
	answer, err := c.Prompt(fmt.Sprintf("Safety check: %s\nAcknowledge and continue? [y/N]: ", message))
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Observe prints coordinator events.
func (c *Console) Observe(ev agent.Event) {
	switch ev.Type {
	case agent.EventAssistantMessage:
		c.Printf("Assistant: %s", ev.Text)
	case agent.EventComputerCall:
		if ev.Action != nil {
			c.Printf("Action: %s", ev.Action.Type)
		}
	case agent.EventFunctionCall:
		c.Printf("Function: %s", ev.Text)
	case agent.EventSafetyCheck:
		c.Printf("Safety check raised: %s", ev.Text)
	case agent.EventTurnFailed:
		c.Printf("Turn failed [%s]: %s", ev.Code, ev.Text)
	}
}

// AutoAcknowledge returns a policy that accepts every safety check and logs it.
func AutoAcknowledge(logger *zap.Logger) agent.Acknowledger {
	logger = logger.Named("session")
	return func(message string) bool {
		logger.Warn("Auto-acknowledging safety check.", zap.String("message", message))
		return true
	}
}

// Run is the interactive loop: each line becomes a turn, "save" persists
// the session and "exit" ends the loop. It returns nil on exit or end of
// input.
func (r *Runner) Run(ctx context.Context, con *Console) error {
	con.Printf("Agent is ready. (Type 'exit' or 'save' anytime.)")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := con.Prompt("You: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit":
			con.Printf("Conversation ended.")
			return nil
		case "save":
			path, err := r.Save(ctx)
			if err != nil {
				con.Printf("Save failed: %v", err)
				continue
			}
			con.Printf("Saved to %s", path)
			continue
		}

		if _, err := r.Submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The coordinator already reported the failure through the observer.
			r.logger.Debug("Turn ended with error.", zap.Error(err))
		}
	}
}
