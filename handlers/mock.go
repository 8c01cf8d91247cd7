package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"shellproxy/apigw"
	"shellproxy/logger"
)

// ErrOffline - имитация отсутствия сети
var ErrOffline = errors.New("mock origin is offline")

type page struct {
	contentType string
	body        string
	status      int
}

// MockOrigin - тестовый источник приложения с заготовленными документами оболочки.
// Работает и как http.Handler (режим -mock), и как сеть для стратегий в тестах.
type MockOrigin struct {
	offline atomic.Bool

	mu    sync.Mutex
	pages map[string]page
	calls map[string]int
	total int
}

// NewMockOrigin создает источник с оболочкой, статикой и небольшим API
func NewMockOrigin() *MockOrigin {
	o := &MockOrigin{
		pages: make(map[string]page),
		calls: make(map[string]int),
	}

	for _, path := range []string{"/", "/workout", "/diet", "/progress", "/profile"} {
		o.SetPage(path, "text/html; charset=utf-8", shellDocument(path))
	}
	o.SetPage("/offline.html", "text/html; charset=utf-8",
		"<!doctype html><html><body><h1>You are offline</h1></body></html>")
	o.SetPage("/manifest.json", "application/manifest+json",
		`{"name":"GymMatrix","short_name":"GymMatrix","start_url":"/","display":"standalone"}`)
	o.SetPage("/gymmatrix-logo.png", "image/png", "\x89PNG\r\n\x1a\nmock-logo")
	o.SetPage("/favicon.ico", "image/x-icon", "mock-favicon")
	o.SetPage("/assets/app.js", "text/javascript", `console.log("gymmatrix");`)
	o.SetPage("/assets/app.css", "text/css", "body{margin:0}")
	o.SetPage("/api/workouts", "application/json", `[{"id":1,"name":"Push day"}]`)

	return o
}

func shellDocument(path string) string {
	return fmt.Sprintf("<!doctype html><html><body data-route=%q><div id=\"root\"></div></body></html>", path)
}

// SetPage задает (или заменяет) документ по пути
func (o *MockOrigin) SetPage(path, contentType, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[path] = page{contentType: contentType, body: body, status: http.StatusOK}
}

// SetStatus заставляет путь отвечать кодом ошибки
func (o *MockOrigin) SetStatus(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.pages[path]
	p.status = status
	if p.contentType == "" {
		p.contentType = "text/plain; charset=utf-8"
	}
	o.pages[path] = p
}

// SetOffline включает или выключает имитацию отсутствия сети
func (o *MockOrigin) SetOffline(offline bool) {
	o.offline.Store(offline)
	logger.Debug("MockOrigin: offline=%v", offline)
}

// Calls возвращает число обращений к пути (включая неудачные)
func (o *MockOrigin) Calls(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[path]
}

// TotalCalls возвращает общее число обращений
func (o *MockOrigin) TotalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// lookup учитывает обращение и возвращает документ
func (o *MockOrigin) lookup(path string) (page, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[path]++
	o.total++
	p, ok := o.pages[path]
	return p, ok
}

func (o *MockOrigin) render(path string) *apigw.Response {
	p, ok := o.lookup(path)
	if !ok {
		p = page{contentType: "text/plain; charset=utf-8", body: "not found", status: http.StatusNotFound}
	}
	body := p.body
	if p.status != http.StatusOK {
		body = http.StatusText(p.status)
	}

	headers := make(http.Header)
	headers.Set("Content-Type", p.contentType)
	headers.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	return &apigw.Response{
		StatusCode: p.status,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
		Source:     apigw.SourceNetwork,
	}
}

// Fetch реализует сеть для стратегий и контроллера
func (o *MockOrigin) Fetch(ctx context.Context, req *apigw.Request) (*apigw.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.offline.Load() {
		o.lookup(req.URL.Path)
		return nil, ErrOffline
	}
	logger.Debug("MockOrigin: %s %s", req.Method, req.URL.Path)
	return o.render(req.URL.Path), nil
}

// ServeHTTP реализует http.Handler. В режиме offline соединение обрывается
// без ответа, как при пропавшей сети.
func (o *MockOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if o.offline.Load() {
		o.lookup(r.URL.Path)
		panic(http.ErrAbortHandler)
	}

	resp := o.render(r.URL.Path)
	defer resp.Discard()

	for name, values := range resp.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		io.Copy(w, resp.Body)
	}
}
