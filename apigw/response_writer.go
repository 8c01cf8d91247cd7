package apigw

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"shellproxy/logger"
)

// hopHeaders - заголовки соединения, которые не пересылаются клиенту
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ResponseWriter отвечает за запись Response в http.ResponseWriter
type ResponseWriter struct{}

// NewResponseWriter создает новый экземпляр writer'а ответов
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{}
}

// WriteResponse записывает Response в http.ResponseWriter
func (rw *ResponseWriter) WriteResponse(w http.ResponseWriter, resp *Response) error {
	logger.Debug("Writing response: status=%d, source=%s, hasBody=%t, hasError=%t",
		resp.StatusCode, resp.Source, resp.Body != nil, resp.Error != nil)

	// Ошибка сети без запасного варианта: клиент видит сбой шлюза
	if resp.Error != nil {
		resp.Discard()
		return rw.writeNetworkError(w, resp.Error)
	}

	for key, values := range resp.Headers {
		if isHopHeader(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("X-Shellproxy-Source", resp.Source.String())

	w.WriteHeader(resp.StatusCode)

	if resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()

	_, err := io.Copy(w, resp.Body)
	if err != nil {
		// Клиент ушел или сеть оборвалась посреди тела - заголовки уже отправлены
		logger.Debug("Error writing response body: %v", err)
	}
	return err
}

// writeNetworkError записывает ответ 502 с текстом ошибки
func (rw *ResponseWriter) writeNetworkError(w http.ResponseWriter, err error) error {
	body := fmt.Sprintf("network request failed: %v", err)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.Header().Set("X-Shellproxy-Source", SourceNetwork.String())
	w.WriteHeader(http.StatusBadGateway)

	_, writeErr := io.WriteString(w, body)
	return writeErr
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
