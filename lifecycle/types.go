package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"shellproxy/apigw"
)

// State - состояние контроллера жизненного цикла
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	// StateRedundant - установка не удалась; допускается повторная установка
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Command - управляющая команда из канала сообщений
type Command string

const (
	// CommandForceActivate - активироваться, не дожидаясь ухода прежнего экземпляра
	CommandForceActivate Command = "SKIP_WAITING"
	// CommandClearAllCaches - удалить все разделы без разбора
	CommandClearAllCaches Command = "CLEAR_CACHE"
)

var (
	// ErrInstallFailed - не удалось предзагрузить оболочку
	ErrInstallFailed = errors.New("install failed")

	// ErrInvalidTransition - событие пришло в неподходящем состоянии
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrUnknownCommand - неизвестный тип управляющего сообщения
	ErrUnknownCommand = errors.New("unknown control command")
)

// ParseCommand разбирает тип сообщения канала управления
func ParseCommand(s string) (Command, error) {
	switch Command(s) {
	case CommandForceActivate, CommandClearAllCaches:
		return Command(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Network - источник ответов для предзагрузки оболочки
type Network interface {
	Fetch(ctx context.Context, req *apigw.Request) (*apigw.Response, error)
}
