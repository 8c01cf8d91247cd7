package auth

import (
	"errors"

	"shellproxy/apigw"
)

// Authenticator - универсальный интерфейс для всех модулей аутентификации.
type Authenticator interface {
	// Authenticate проверяет подлинность запроса к управляющему каналу.
	// Возвращает подтвержденную личность отправителя или ошибку аутентификации.
	Authenticate(req *apigw.Request) (*UserIdentity, error)
}

// UserIdentity представляет подтвержденную личность отправителя команды.
type UserIdentity struct {
	// Отображаемое имя (для логов)
	DisplayName string
}

// Пользовательские ошибки для точной диагностики
var (
	// ErrMissingToken - в запросе нет токена.
	ErrMissingToken = errors.New("missing control token")
	// ErrInvalidToken - токен не найден среди настроенных.
	ErrInvalidToken = errors.New("invalid control token")
	// ErrInvalidConfig - некорректная конфигурация аутентификации.
	ErrInvalidConfig = errors.New("invalid auth config")
)

// TokenHeader - альтернативный заголовок для токена, если Authorization занят
const TokenHeader = "X-Shellproxy-Token"
