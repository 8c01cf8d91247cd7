package apigw

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config содержит конфигурацию для API Gateway
type Config struct {
	// ListenAddress - адрес и порт для прослушивания (например, ":8080")
	ListenAddress string

	// TLSCertFile - путь к файлу SSL-сертификата (опционально, для включения HTTPS)
	TLSCertFile string

	// TLSKeyFile - путь к файлу приватного ключа SSL (опционально)
	TLSKeyFile string

	// ReadTimeout - таймаут на чтение всего запроса, включая тело
	ReadTimeout time.Duration

	// WriteTimeout - таймаут на запись всего ответа
	WriteTimeout time.Duration

	// Origin - базовый URL приложения, относительные запросы разрешаются относительно него
	Origin string

	// MessagePath - путь управляющего канала
	MessagePath string

	// NavigateByAccept - считать GET с Accept: text/html навигацией,
	// если клиент не прислал Sec-Fetch-Mode
	NavigateByAccept bool
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ListenAddress:    ":8080",
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		Origin:           "http://localhost:5173",
		MessagePath:      "/__shellproxy/message",
		NavigateByAccept: true,
	}
}

// originURL разбирает Origin
func (c Config) originURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", c.Origin)
	}
	return u, nil
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if _, err := c.originURL(); err != nil {
		return err
	}
	if c.MessagePath != "" && !strings.HasPrefix(c.MessagePath, "/") {
		return fmt.Errorf("message path must start with '/': %q", c.MessagePath)
	}
	return nil
}
