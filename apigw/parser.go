package apigw

import (
	"net/http"
	"net/url"
	"strings"

	"shellproxy/logger"
)

// RequestParser отвечает за преобразование http.Request в Request
type RequestParser struct {
	origin           *url.URL
	navigateByAccept bool
}

// NewRequestParser создает новый экземпляр парсера
func NewRequestParser(origin *url.URL, navigateByAccept bool) *RequestParser {
	return &RequestParser{
		origin:           origin,
		navigateByAccept: navigateByAccept,
	}
}

// Parse анализирует HTTP запрос и создает Request.
// Абсолютный URI (режим forward-прокси) используется как есть,
// относительный разрешается относительно origin (режим reverse-прокси).
func (p *RequestParser) Parse(r *http.Request) *Request {
	target := p.resolve(r)

	req := &Request{
		Method:  r.Method,
		URL:     target,
		Headers: r.Header.Clone(),
		Body:    r.Body,
		Context: r.Context(),
	}
	req.Navigate = p.isNavigation(r)

	logger.Debug("Parsed request: %s %s (navigate=%t)", req.Method, req.URL, req.Navigate)
	return req
}

// resolve строит абсолютный URL запроса
func (p *RequestParser) resolve(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}

	u := &url.URL{
		Scheme:   p.origin.Scheme,
		Host:     p.origin.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u
}

// isNavigation определяет, является ли запрос переходом на страницу
func (p *RequestParser) isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}

	if !p.navigateByAccept || r.Method != http.MethodGet {
		return false
	}

	// Браузеры без Sec-Fetch-* присылают text/html первым в Accept при переходе
	dest := r.Header.Get("Sec-Fetch-Dest")
	if dest != "" && dest != "document" {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	first := strings.TrimSpace(strings.SplitN(accept, ",", 2)[0])
	first = strings.TrimSpace(strings.SplitN(first, ";", 2)[0])
	return strings.EqualFold(first, "text/html")
}
