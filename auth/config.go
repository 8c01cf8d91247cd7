package auth

import "fmt"

// Провайдеры аутентификации
const (
	ProviderNone   = "none"
	ProviderStatic = "static"
)

// Config содержит конфигурацию для модуля аутентификации
type Config struct {
	// Provider определяет тип провайдера аутентификации ("none", "static")
	Provider string `yaml:"provider" json:"provider"`

	// Static содержит конфигурацию для StaticAuthenticator
	Static *StaticConfig `yaml:"static,omitempty" json:"static,omitempty"`
}

// StaticConfig содержит конфигурацию для статического аутентификатора
type StaticConfig struct {
	// Clients содержит список отправителей команд и их токенов
	Clients []ClientConfig `yaml:"clients" json:"clients"`
}

// ClientConfig содержит конфигурацию одного отправителя
type ClientConfig struct {
	// Token - bearer-токен
	Token string `yaml:"token" json:"token"`

	// DisplayName - отображаемое имя для логов
	DisplayName string `yaml:"display_name" json:"display_name"`
}

// DefaultConfig возвращает конфигурацию по умолчанию: канал открыт
func DefaultConfig() *Config {
	return &Config{Provider: ProviderNone}
}

// NewAuthenticatorFromConfig создает аутентификатор на основе конфигурации
func NewAuthenticatorFromConfig(config *Config) (Authenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case ProviderNone:
		return NoneAuthenticator{}, nil
	default:
		tokens := make(map[string]string, len(config.Static.Clients))
		for _, client := range config.Static.Clients {
			tokens[client.Token] = client.DisplayName
		}
		return NewStaticAuthenticator(tokens)
	}
}

// Validate проверяет корректность конфигурации аутентификации
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderNone:
		return nil

	case ProviderStatic:
		if c.Static == nil || len(c.Static.Clients) == 0 {
			return fmt.Errorf("%w: static provider requires at least one client", ErrInvalidConfig)
		}

		// Проверяем каждого клиента
		seen := make(map[string]bool)
		for i, client := range c.Static.Clients {
			if client.Token == "" {
				return fmt.Errorf("%w: client %d has empty token", ErrInvalidConfig, i)
			}
			if seen[client.Token] {
				return fmt.Errorf("%w: duplicate token for client %q", ErrInvalidConfig, client.DisplayName)
			}
			seen[client.Token] = true
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
}
