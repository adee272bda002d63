// internal/session/runner.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/store"
)

// ConfirmationKeywords mark an assistant message that asks the user to confirm.
var ConfirmationKeywords = []string{"would you like", "proceed", "confirm", "are you sure", "should i", "do you"}

// AutoReplyText is sent on the user's behalf when auto-reply fires.
const AutoReplyText = "yes"

const (
	defaultAutoReplyDelay = 3 * time.Second
	defaultMaxAutoReplies = 3
)

// TurnRunner is the part of the coordinator the session drives.
type TurnRunner interface {
	RunTurn(ctx context.Context, history []schemas.Item) ([]schemas.Item, error)
	LastResponseID() string
	SetLastResponseID(id string)
}

// Runner owns the conversation history of one session and feeds user
// input through the coordinator one turn at a time.
type Runner struct {
	turns  TurnRunner
	store  store.SessionStore
	logger *zap.Logger

	autoReply      bool
	autoReplyDelay time.Duration
	maxAutoReplies int
	turnTimeout    time.Duration

	mu      sync.Mutex
	history []schemas.Item
}

// Option configures a Runner.
type Option func(*Runner)

// WithAutoReply answers confirmation questions with "yes".
func WithAutoReply(enabled bool) Option {
	return func(r *Runner) { r.autoReply = enabled }
}

// WithAutoReplyDelay sets the pause before an automatic reply.
func WithAutoReplyDelay(d time.Duration) Option {
	return func(r *Runner) { r.autoReplyDelay = d }
}

// WithMaxAutoReplies bounds consecutive automatic replies after one user message.
func WithMaxAutoReplies(n int) Option {
	return func(r *Runner) { r.maxAutoReplies = n }
}

// WithTurnTimeout bounds each turn. Zero leaves turns bounded only by the caller's context.
func WithTurnTimeout(d time.Duration) Option {
	return func(r *Runner) { r.turnTimeout = d }
}

// NewRunner creates a session runner. st may be nil, in which case save
// and resume fail.
func NewRunner(turns TurnRunner, st store.SessionStore, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		turns:          turns,
		store:          st,
		logger:         logger.Named("session"),
		autoReplyDelay: defaultAutoReplyDelay,
		maxAutoReplies: defaultMaxAutoReplies,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// History returns a copy of the conversation so far.
func (r *Runner) History() []schemas.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.Item(nil), r.history...)
}

// State snapshots the session for persistence.
func (r *Runner) State() schemas.SessionState {
	return schemas.SessionState{
		LastResponseID:    r.turns.LastResponseID(),
		ConversationItems: r.History(),
	}
}

// Save persists the current state and returns its location.
func (r *Runner) Save(ctx context.Context) (string, error) {
	if r.store == nil {
		return "", errors.New("no session store configured")
	}
	return r.store.Save(ctx, r.State())
}

// Resume replaces the history with a saved session.
func (r *Runner) Resume(ctx context.Context, ref string) error {
	if r.store == nil {
		return errors.New("no session store configured")
	}
	state, err := r.store.Load(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to resume session: %w", err)
	}

	r.mu.Lock()
	r.history = pairedPrefix(state.ConversationItems)
	n := len(r.history)
	r.mu.Unlock()
	r.turns.SetLastResponseID(state.LastResponseID)

	r.logger.Info("Session resumed.", zap.String("ref", ref), zap.String("last_response_id", state.LastResponseID), zap.Int("items", n))
	return nil
}

// Submit appends a user message and runs turns until the model stops
// asking for confirmation (when auto-reply is on). It returns every item
// added to the history, including automatic replies.
//
// A failed turn keeps the items it produced up to the last point where
// every computer call has its output, so the history can still be replayed.
func (r *Runner) Submit(ctx context.Context, text string) ([]schemas.Item, error) {
	var added []schemas.Item
	message := schemas.NewUserMessage(text)

	for replies := 0; ; replies++ {
		produced, err := r.runTurn(ctx, message)
		added = append(added, message)
		added = append(added, produced...)
		if err != nil {
			return added, err
		}

		if !r.autoReply || replies >= r.maxAutoReplies || !NeedsConfirmation(produced) {
			return added, nil
		}

		r.logger.Info("Confirmation requested, replying automatically.", zap.Int("reply", replies+1))
		if err := sleepCtx(ctx, r.autoReplyDelay); err != nil {
			return added, err
		}
		message = schemas.NewUserMessage(AutoReplyText)
	}
}

func (r *Runner) runTurn(ctx context.Context, message schemas.Item) ([]schemas.Item, error) {
	if r.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.turnTimeout)
		defer cancel()
	}

	r.mu.Lock()
	r.history = append(r.history, message)
	history := append([]schemas.Item(nil), r.history...)
	r.mu.Unlock()

	produced, err := r.turns.RunTurn(ctx, history)
	if err != nil {
		produced = pairedPrefix(produced)
	}

	r.mu.Lock()
	r.history = append(r.history, produced...)
	r.mu.Unlock()
	return produced, err
}

// NeedsConfirmation reports whether any assistant message in items asks
// for confirmation.
func NeedsConfirmation(items []schemas.Item) bool {
	for _, item := range items {
		if item.Type != schemas.ItemMessage || item.Role == schemas.RoleUser {
			continue
		}
		text := strings.ToLower(item.Text())
		for _, kw := range ConfirmationKeywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}

// pairedPrefix returns the longest prefix of items in which every computer
// call has a matching output. Calls to unknown functions never get one, so
// function calls are not tracked.
func pairedPrefix(items []schemas.Item) []schemas.Item {
	open := make(map[string]struct{})
	end := 0
	for i, item := range items {
		switch item.Type {
		case schemas.ItemComputerCall:
			open[item.CallID] = struct{}{}
		case schemas.ItemComputerCallOutput:
			delete(open, item.CallID)
		}
		if len(open) == 0 {
			end = i + 1
		}
	}
	return items[:end]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
