package routing

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"shellproxy/apigw"
	"shellproxy/auth"
	"shellproxy/lifecycle"
)

// MockStrategyExecutor запоминает, какая стратегия вызвана, и отдает ответ
// с ее именем в теле
type MockStrategyExecutor struct {
	mu        sync.Mutex
	calls     []string
	partition string
}

func NewMockStrategyExecutor() *MockStrategyExecutor {
	return &MockStrategyExecutor{}
}

func (m *MockStrategyExecutor) record(name string) *apigw.Response {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()

	return &apigw.Response{
		StatusCode: http.StatusOK,
		Headers:    make(http.Header),
		Body:       io.NopCloser(strings.NewReader(name)),
	}
}

func (m *MockStrategyExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockStrategyExecutor) CacheFirst(ctx context.Context, req *apigw.Request, partition string) *apigw.Response {
	m.mu.Lock()
	m.partition = partition
	m.mu.Unlock()
	return m.record("cache_first")
}

func (m *MockStrategyExecutor) NetworkFirst(ctx context.Context, req *apigw.Request) *apigw.Response {
	return m.record("network_first")
}

func (m *MockStrategyExecutor) StaleWhileRevalidate(ctx context.Context, req *apigw.Request) *apigw.Response {
	return m.record("stale_while_revalidate")
}

func (m *MockStrategyExecutor) Navigation(ctx context.Context, req *apigw.Request) *apigw.Response {
	return m.record("navigation")
}

// MockLifecycle - контроллер с ручным управлением
type MockLifecycle struct {
	mu          sync.Mutex
	controlling bool
	installErr  error
	installs    int
	activations int
	commands    []lifecycle.Command
}

func (m *MockLifecycle) Install(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installs++
	return m.installErr
}

func (m *MockLifecycle) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activations++
	m.controlling = true
	return nil
}

func (m *MockLifecycle) Control(ctx context.Context, cmd lifecycle.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
}

func (m *MockLifecycle) Controlling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlling
}

// MockAuthenticator для тестирования
type MockAuthenticator struct {
	shouldFail bool
	failError  error
}

func (m *MockAuthenticator) Authenticate(req *apigw.Request) (*auth.UserIdentity, error) {
	if m.shouldFail {
		return nil, m.failError
	}
	return &auth.UserIdentity{DisplayName: "test-client"}, nil
}
