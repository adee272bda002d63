package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/agent"
	"github.com/xkilldash9x/scalpel-cua/internal/store"
)

// scriptedTurns replays canned turn results and records the history it saw.
type scriptedTurns struct {
	mu        sync.Mutex
	results   []turnResult
	histories [][]schemas.Item
	respID    string
}

type turnResult struct {
	items  []schemas.Item
	respID string
	err    error
}

func (s *scriptedTurns) RunTurn(_ context.Context, history []schemas.Item) ([]schemas.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = append(s.histories, history)
	if len(s.results) == 0 {
		return []schemas.Item{schemas.NewAssistantMessage("ok")}, nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	if res.respID != "" {
		s.respID = res.respID
	}
	return res.items, res.err
}

func (s *scriptedTurns) LastResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respID
}

func (s *scriptedTurns) SetLastResponseID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respID = id
}

func computerCall(id string) schemas.Item {
	return schemas.Item{Type: schemas.ItemComputerCall, CallID: id, Action: &schemas.Action{Type: schemas.ActionScreenshot}}
}

func computerOutput(id string) schemas.Item {
	return schemas.NewComputerCallOutput(id, "data:image/png;base64,AA==", nil)
}

func itemTypes(items []schemas.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it.Type)
		if it.Type == schemas.ItemMessage {
			out[i] += ":" + string(it.Role)
		}
	}
	return out
}

func TestRunner_SubmitAccumulatesHistory(t *testing.T) {
	turns := &scriptedTurns{results: []turnResult{
		{items: []schemas.Item{computerCall("c1"), computerOutput("c1"), schemas.NewAssistantMessage("Done.")}, respID: "resp_1"},
		{items: []schemas.Item{schemas.NewAssistantMessage("Sure.")}, respID: "resp_2"},
	}}
	r := NewRunner(turns, nil, zaptest.NewLogger(t))

	added, err := r.Submit(context.Background(), "first")
	require.NoError(t, err)
	assert.Len(t, added, 4)

	_, err = r.Submit(context.Background(), "second")
	require.NoError(t, err)

	want := []string{"message:user", "computer_call", "computer_call_output", "message:assistant", "message:user", "message:assistant"}
	if diff := cmp.Diff(want, itemTypes(r.History())); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, turns.histories, 2)
	assert.Len(t, turns.histories[0], 1)
	assert.Len(t, turns.histories[1], 5, "second turn sees the whole conversation")
	assert.Equal(t, "resp_2", r.State().LastResponseID)
}

func TestRunner_FailedTurnKeepsPairedPrefix(t *testing.T) {
	boom := &agent.SafetyCheckRejectedError{CallID: "c2", Check: schemas.SafetyCheck{ID: "sc", Message: "delete file?"}}
	turns := &scriptedTurns{results: []turnResult{{
		items: []schemas.Item{computerCall("c1"), computerOutput("c1"), computerCall("c2")},
		err:   boom,
	}}}
	r := NewRunner(turns, nil, zaptest.NewLogger(t))

	added, err := r.Submit(context.Background(), "go")
	require.ErrorAs(t, err, new(*agent.SafetyCheckRejectedError))
	assert.Equal(t, []string{"message:user", "computer_call", "computer_call_output"}, itemTypes(added))
	assert.Equal(t, itemTypes(added), itemTypes(r.History()))
}

func TestRunner_AutoReply(t *testing.T) {
	t.Run("replies yes once per confirmation", func(t *testing.T) {
		turns := &scriptedTurns{results: []turnResult{
			{items: []schemas.Item{schemas.NewAssistantMessage("Would you like me to continue?")}},
			{items: []schemas.Item{schemas.NewAssistantMessage("All done.")}},
		}}
		r := NewRunner(turns, nil, zaptest.NewLogger(t), WithAutoReply(true), WithAutoReplyDelay(0))

		added, err := r.Submit(context.Background(), "book it")
		require.NoError(t, err)
		require.Len(t, added, 4)
		assert.Equal(t, AutoReplyText, added[2].Text())
		assert.Equal(t, schemas.RoleUser, added[2].Role)
		assert.Len(t, turns.histories, 2)
	})

	t.Run("disabled by default", func(t *testing.T) {
		turns := &scriptedTurns{results: []turnResult{
			{items: []schemas.Item{schemas.NewAssistantMessage("Should I proceed?")}},
		}}
		r := NewRunner(turns, nil, zaptest.NewLogger(t))

		added, err := r.Submit(context.Background(), "book it")
		require.NoError(t, err)
		assert.Len(t, added, 2)
	})

	t.Run("bounded", func(t *testing.T) {
		confirm := turnResult{items: []schemas.Item{schemas.NewAssistantMessage("Are you sure?")}}
		turns := &scriptedTurns{results: []turnResult{confirm, confirm, confirm, confirm, confirm}}
		r := NewRunner(turns, nil, zaptest.NewLogger(t), WithAutoReply(true), WithAutoReplyDelay(0), WithMaxAutoReplies(2))

		_, err := r.Submit(context.Background(), "go")
		require.NoError(t, err)
		assert.Len(t, turns.histories, 3)
	})

	t.Run("delay honours cancellation", func(t *testing.T) {
		turns := &scriptedTurns{results: []turnResult{
			{items: []schemas.Item{schemas.NewAssistantMessage("Do you want this?")}},
		}}
		r := NewRunner(turns, nil, zaptest.NewLogger(t), WithAutoReply(true), WithAutoReplyDelay(time.Hour))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := r.Submit(ctx, "go")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNeedsConfirmation(t *testing.T) {
	tests := []struct {
		name  string
		items []schemas.Item
		want  bool
	}{
		{"keyword in assistant text", []schemas.Item{schemas.NewAssistantMessage("Please CONFIRM the order.")}, true},
		{"no keyword", []schemas.Item{schemas.NewAssistantMessage("Finished.")}, false},
		{"user messages ignored", []schemas.Item{schemas.NewUserMessage("do you know?")}, false},
		{"non-message items ignored", []schemas.Item{computerCall("c1")}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsConfirmation(tt.items))
		})
	}
}

func TestPairedPrefix(t *testing.T) {
	fn := schemas.Item{Type: schemas.ItemFunctionCall, CallID: "f1", Name: "unknown"}
	items := []schemas.Item{
		schemas.NewUserMessage("hi"),
		fn,
		computerCall("c1"),
		computerOutput("c1"),
		computerCall("c2"),
		schemas.NewAssistantMessage("partial"),
	}
	got := pairedPrefix(items)
	assert.Equal(t, []string{"message:user", "function_call", "computer_call", "computer_call_output"}, itemTypes(got))
	assert.Empty(t, pairedPrefix(nil))
}

func TestRunner_SaveAndResume(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(t.TempDir(), zap.NewNop())

	turns := &scriptedTurns{results: []turnResult{
		{items: []schemas.Item{schemas.NewAssistantMessage("Hello.")}, respID: "resp_9"},
	}}
	r := NewRunner(turns, fs, zaptest.NewLogger(t))
	_, err := r.Submit(ctx, "hi")
	require.NoError(t, err)

	path, err := r.Save(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "resp_9.json"))

	resumedTurns := &scriptedTurns{}
	resumed := NewRunner(resumedTurns, fs, zaptest.NewLogger(t))
	require.NoError(t, resumed.Resume(ctx, "resp_9"))
	assert.Equal(t, "resp_9", resumedTurns.LastResponseID())
	assert.Equal(t, itemTypes(r.History()), itemTypes(resumed.History()))

	_, err = resumed.Submit(ctx, "again")
	require.NoError(t, err)
	assert.Len(t, resumedTurns.histories[0], 3)
}

func TestRunner_NoStore(t *testing.T) {
	r := NewRunner(&scriptedTurns{}, nil, zaptest.NewLogger(t))
	_, err := r.Save(context.Background())
	assert.Error(t, err)
	assert.Error(t, r.Resume(context.Background(), "x"))
}

func TestRunner_ResumeMissing(t *testing.T) {
	r := NewRunner(&scriptedTurns{}, store.NewFileStore(t.TempDir(), zap.NewNop()), zaptest.NewLogger(t))
	err := r.Resume(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	turns := &scriptedTurns{results: []turnResult{
		{items: []schemas.Item{schemas.NewAssistantMessage("Opened it.")}, respID: "resp_5"},
		{err: errors.New("gateway down")},
	}}
	r := NewRunner(turns, store.NewFileStore(dir, zap.NewNop()), zaptest.NewLogger(t))

	in := strings.NewReader("open example.com\n\nsave\nbreak it\nexit\nnever read\n")
	var out bytes.Buffer
	require.NoError(t, r.Run(context.Background(), NewConsole(in, &out)))

	assert.Len(t, turns.histories, 2, "blank lines and commands are not turns")
	assert.Contains(t, out.String(), "Agent is ready.")
	assert.Contains(t, out.String(), "Saved to "+dir)
	assert.Contains(t, out.String(), "Conversation ended.")
	assert.Equal(t, []string{"message:user", "message:assistant", "message:user"}, itemTypes(r.History()))
}

func TestRunner_RunEndsAtEOF(t *testing.T) {
	r := NewRunner(&scriptedTurns{}, nil, zaptest.NewLogger(t))
	var out bytes.Buffer
	require.NoError(t, r.Run(context.Background(), NewConsole(strings.NewReader("hello"), &out)))
	assert.Len(t, r.History(), 2, "a final line without newline still runs")
}

func TestRunner_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(&scriptedTurns{}, nil, zaptest.NewLogger(t))
	err := r.Run(ctx, NewConsole(strings.NewReader("hi\n"), &bytes.Buffer{}))
	assert.ErrorIs(t, err, context.Canceled)
}
