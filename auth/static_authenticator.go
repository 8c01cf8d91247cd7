package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"shellproxy/apigw"
	"shellproxy/logger"
)

// StaticAuthenticator реализует интерфейс Authenticator,
// сверяя bearer-токен со статическим списком.
type StaticAuthenticator struct {
	tokens  []tokenEntry
	metrics *Metrics
}

type tokenEntry struct {
	token       []byte
	displayName string
}

// NewStaticAuthenticator создает новый экземпляр аутентификатора.
// tokens - отображение токен -> отображаемое имя.
func NewStaticAuthenticator(tokens map[string]string) (*StaticAuthenticator, error) {
	if len(tokens) == 0 {
		return nil, errors.New("tokens map cannot be nil or empty")
	}

	entries := make([]tokenEntry, 0, len(tokens))
	for token, name := range tokens {
		if token == "" {
			return nil, errors.New("token cannot be empty")
		}
		entries = append(entries, tokenEntry{token: []byte(token), displayName: name})
	}

	return &StaticAuthenticator{
		tokens:  entries,
		metrics: NewMetrics(),
	}, nil
}

// Authenticate реализует интерфейс Authenticator.
func (s *StaticAuthenticator) Authenticate(req *apigw.Request) (*UserIdentity, error) {
	start := time.Now()

	token := extractToken(req)
	if token == "" {
		logger.Debug("Control request without token")
		s.observe("error", start)
		return nil, ErrMissingToken
	}

	// Сравниваем со всеми токенами за постоянное время, без раннего выхода
	presented := []byte(token)
	var match *tokenEntry
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(presented, s.tokens[i].token) == 1 {
			match = &s.tokens[i]
		}
	}
	if match == nil {
		logger.Debug("Control request with unknown token")
		s.observe("failure", start)
		return nil, ErrInvalidToken
	}

	s.observe("success", start)
	return &UserIdentity{DisplayName: match.displayName}, nil
}

func (s *StaticAuthenticator) observe(result string, start time.Time) {
	s.metrics.AuthRequestsTotal.WithLabelValues(result).Inc()
	s.metrics.AuthLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// extractToken достает токен из "Authorization: Bearer <токен>" или из TokenHeader
func extractToken(req *apigw.Request) string {
	if req == nil || req.Headers == nil {
		return ""
	}
	if h := req.Headers.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(req.Headers.Get(TokenHeader))
}

// NoneAuthenticator пропускает всех. Подходит, только когда управляющий
// канал недоступен извне.
type NoneAuthenticator struct{}

func (NoneAuthenticator) Authenticate(req *apigw.Request) (*UserIdentity, error) {
	return &UserIdentity{DisplayName: "anonymous"}, nil
}
