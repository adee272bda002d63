// internal/agent/mocks_test.go
package agent_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/agent"
	"github.com/xkilldash9x/scalpel-cua/internal/llmclient"
)

// -- Gateway Mock --

type MockGateway struct {
	mock.Mock
	mu       sync.Mutex
	requests []llmclient.Request
}

func (m *MockGateway) CreateResponse(ctx context.Context, req llmclient.Request) (*llmclient.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llmclient.Response), args.Error(1)
}

func (m *MockGateway) Requests() []llmclient.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llmclient.Request(nil), m.requests...)
}

// -- Computer Mock --

type MockComputer struct {
	mock.Mock
}

func (m *MockComputer) Execute(ctx context.Context, action schemas.Action) error {
	return m.Called(ctx, action).Error(0)
}

func (m *MockComputer) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockComputer) HasFunction(name string) bool {
	return m.Called(name).Bool(0)
}

func (m *MockComputer) CallFunction(ctx context.Context, name, arguments string) (string, error) {
	args := m.Called(ctx, name, arguments)
	return args.String(0), args.Error(1)
}

func (m *MockComputer) Tools() []schemas.Tool {
	return []schemas.Tool{schemas.NewComputerTool(1024, 768, schemas.EnvironmentBrowser)}
}

// -- Redactor Fake --

// prefixRedactor marks frames so tests can tell redacted from raw bytes.
type prefixRedactor struct {
	err error
}

func (r prefixRedactor) Redact(frame []byte) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return append([]byte("redacted:"), frame...), nil
}

// -- Observer Recorder --

type eventRecorder struct {
	mu     sync.Mutex
	events []agent.Event
}

func (r *eventRecorder) Observe(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t agent.EventType) []agent.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []agent.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
