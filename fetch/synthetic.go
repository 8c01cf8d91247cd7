package fetch

import (
	"io"
	"net/http"
	"strings"

	"shellproxy/apigw"
)

const (
	offlineText = "Offline"
	offlineJSON = `{"error":"Offline"}`
)

// OfflineText - последний ответ для ресурсов и навигации, когда откатываться больше некуда
func OfflineText() *apigw.Response {
	return synthetic("text/plain; charset=utf-8", offlineText)
}

// OfflineJSON - последний ответ для API-запросов
func OfflineJSON() *apigw.Response {
	return synthetic("application/json", offlineJSON)
}

func synthetic(contentType, body string) *apigw.Response {
	headers := make(http.Header)
	headers.Set("Content-Type", contentType)
	return &apigw.Response{
		StatusCode: http.StatusServiceUnavailable,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(body)),
		Source:     apigw.SourceSynthetic,
	}
}
