package cache

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"shellproxy/apigw"
)

// Snapshot делает копию ответа для записи в кэш. Тело вычитывается целиком,
// а resp.Body заменяется перематываемой копией, так что вызывающий
// по-прежнему может отдать этот же ответ клиенту.
// Ошибка означает, что тело не удалось дочитать из сети.
func Snapshot(key string, resp *apigw.Response) (*Entry, error) {
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body for %s: %w", key, err)
		}
		body = data
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &Entry{
		Key:        key,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	}, nil
}
