package apigw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Source указывает, откуда пришел ответ
type Source int

const (
	SourceNetwork Source = iota
	SourceCache
	SourceSynthetic
)

// String возвращает строковое представление источника (используется в метках метрик)
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// Request - внутреннее представление перехваченного запроса.
// Создается парсером из http.Request или вручную (предзагрузка оболочки).
type Request struct {
	// HTTP метод
	Method string

	// Абсолютный URL запроса (схема, хост, путь, query)
	URL *url.URL

	// Navigate - признак перехода на страницу, а не загрузки подресурса
	Navigate bool

	// Заголовки исходного запроса
	Headers http.Header

	// Тело запроса; для GET обычно nil
	Body io.ReadCloser

	// Контекст исходного запроса для поддержки отмены
	Context context.Context
}

// NewRequest создает GET-запрос к абсолютному URL
func NewRequest(ctx context.Context, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{
		Method:  http.MethodGet,
		URL:     u,
		Headers: make(http.Header),
		Context: ctx,
	}, nil
}

// IsCacheable сообщает, может ли запрос вообще проходить через кэш:
// только GET и только схемы http/https.
func (r *Request) IsCacheable() bool {
	if r == nil || r.URL == nil {
		return false
	}
	if r.Method != http.MethodGet {
		return false
	}
	scheme := strings.ToLower(r.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// Key возвращает нормализованный ключ кэша для запроса
func (r *Request) Key() string {
	return CacheKey(r.URL)
}

// Ctx возвращает контекст запроса или context.Background()
func (r *Request) Ctx() context.Context {
	if r.Context == nil {
		return context.Background()
	}
	return r.Context
}

// WithContext возвращает неглубокую копию запроса с другим контекстом
func (r *Request) WithContext(ctx context.Context) *Request {
	clone := *r
	clone.Context = ctx
	return &clone
}

// CacheKey нормализует URL в ключ: схема и хост в нижнем регистре,
// пустой путь заменяется на "/", фрагмент отбрасывается.
func CacheKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	n.Fragment = ""
	n.RawFragment = ""
	n.User = nil
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String()
}

// Response - внутреннее представление ответа прокси.
// Формируется стратегиями и используется Gateway для отправки клиенту.
type Response struct {
	// HTTP код состояния
	StatusCode int

	// Заголовки для отправки клиенту
	Headers http.Header

	// Тело ответа
	Body io.ReadCloser

	// Source - источник ответа: сеть, кэш или синтетический ответ
	Source Source

	// Ошибка сети, которую клиент должен увидеть. Если не nil, Body игнорируется.
	Error error
}

// OK сообщает, является ли код ответа успешным (2xx)
func (r *Response) OK() bool {
	return r != nil && r.Error == nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Discard закрывает тело ответа, если оно есть
func (r *Response) Discard() {
	if r != nil && r.Body != nil {
		r.Body.Close()
	}
}

// Message - сообщение управляющего канала от приложения
type Message struct {
	Type string `json:"type"`
}

// RequestHandler - интерфейс следующего по цепочке модуля (диспетчер событий).
type RequestHandler interface {
	// Intercept обрабатывает запрос. nil означает "пропустить без посредничества":
	// Gateway сам выполнит обычный запрос к сети.
	Intercept(req *Request) *Response

	// Message доставляет управляющее сообщение. Ответа отправителю нет,
	// ошибка означает только отказ в доставке (аутентификация, неизвестный тип).
	Message(req *Request, msg Message) error
}

// Upstream выполняет обычный сетевой запрос для пропускаемых запросов
type Upstream interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}
