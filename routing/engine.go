package routing

import (
	"context"
	"errors"
	"fmt"

	"shellproxy/apigw"
	"shellproxy/auth"
	"shellproxy/lifecycle"
	"shellproxy/logger"
)

// EventKind - вид события, доставляемого хостом
type EventKind string

const (
	EventInstall  EventKind = "install"
	EventActivate EventKind = "activate"
	EventFetch    EventKind = "fetch"
	EventMessage  EventKind = "message"
)

// ErrUnknownEvent - для вида события нет обработчика
var ErrUnknownEvent = errors.New("unknown event kind")

// Event - событие хоста. Request заполняется для fetch и message, Message - для message.
type Event struct {
	Kind    EventKind
	Context context.Context
	Request *apigw.Request
	Message apigw.Message
}

func (ev *Event) ctx() context.Context {
	if ev.Context != nil {
		return ev.Context
	}
	if ev.Request != nil {
		return ev.Request.Ctx()
	}
	return context.Background()
}

// Result - итог обработки события. Для fetch nil Response означает
// "пропустить без посредничества".
type Result struct {
	Response *apigw.Response
	Err      error
}

// EventHandler обрабатывает одно событие
type EventHandler func(ev *Event) Result

// Engine - диспетчер событий: явная таблица "вид события -> обработчик"
type Engine struct {
	// Зависимости, внедряемые при создании
	auth       auth.Authenticator // Аутентификация управляющего канала
	classifier *Classifier
	strategies StrategyExecutor
	lifecycle  Lifecycle

	// Раздел для cache-first
	staticPartition string

	handlers map[EventKind]EventHandler
	metrics  *Metrics
	log      *logger.Logger
}

// NewEngine создает новый экземпляр Engine
func NewEngine(
	authenticator auth.Authenticator,
	classifier *Classifier,
	strategies StrategyExecutor,
	lc Lifecycle,
	staticPartition string,
) *Engine {
	if classifier == nil {
		classifier, _ = NewClassifierFromConfig(DefaultConfig())
	}

	e := &Engine{
		auth:            authenticator,
		classifier:      classifier,
		strategies:      strategies,
		lifecycle:       lc,
		staticPartition: staticPartition,
		metrics:         NewMetrics(),
		log:             logger.Named("routing"),
	}
	e.handlers = map[EventKind]EventHandler{
		EventInstall:  e.handleInstall,
		EventActivate: e.handleActivate,
		EventFetch:    e.handleFetch,
		EventMessage:  e.handleMessage,
	}
	return e
}

// Dispatch находит обработчик события и вызывает его синхронно
func (e *Engine) Dispatch(ev *Event) Result {
	handler, ok := e.handlers[ev.Kind]
	if !ok {
		e.metrics.EventsTotal.WithLabelValues(string(ev.Kind), "unknown").Inc()
		return Result{Err: fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)}
	}

	result := handler(ev)
	status := "ok"
	if result.Err != nil {
		status = "error"
	}
	e.metrics.EventsTotal.WithLabelValues(string(ev.Kind), status).Inc()
	return result
}

// Intercept - реализация apigw.RequestHandler
func (e *Engine) Intercept(req *apigw.Request) *apigw.Response {
	return e.Dispatch(&Event{Kind: EventFetch, Request: req}).Response
}

// Message - реализация apigw.RequestHandler
func (e *Engine) Message(req *apigw.Request, msg apigw.Message) error {
	return e.Dispatch(&Event{Kind: EventMessage, Request: req, Message: msg}).Err
}

func (e *Engine) handleInstall(ev *Event) Result {
	return Result{Err: e.lifecycle.Install(ev.ctx())}
}

func (e *Engine) handleActivate(ev *Event) Result {
	return Result{Err: e.lifecycle.Activate(ev.ctx())}
}

func (e *Engine) handleFetch(ev *Event) Result {
	req := ev.Request

	// Не-GET и не-http(s) не трогаем вовсе
	if !req.IsCacheable() {
		e.metrics.PassThroughTotal.WithLabelValues("not_cacheable").Inc()
		return Result{}
	}
	// До захвата клиентов прокси прозрачен
	if !e.lifecycle.Controlling() {
		e.metrics.PassThroughTotal.WithLabelValues("not_controlling").Inc()
		return Result{}
	}

	class := e.classifier.Classify(req)
	e.metrics.ClassifiedTotal.WithLabelValues(class.String()).Inc()
	e.log.Debug("%s %s classified as %s", req.Method, req.URL, class)

	ctx := ev.ctx()
	switch class {
	case ClassNetworkFirst:
		return Result{Response: e.strategies.NetworkFirst(ctx, req)}
	case ClassStaticAsset:
		return Result{Response: e.strategies.CacheFirst(ctx, req, e.staticPartition)}
	case ClassNavigation:
		return Result{Response: e.strategies.Navigation(ctx, req)}
	default:
		return Result{Response: e.strategies.StaleWhileRevalidate(ctx, req)}
	}
}

func (e *Engine) handleMessage(ev *Event) Result {
	identity, err := e.auth.Authenticate(ev.Request)
	if err != nil {
		e.log.Warn("Rejected control message %q: %v", ev.Message.Type, err)
		return Result{Err: fmt.Errorf("%w: %w", apigw.ErrUnauthorized, err)}
	}

	cmd, err := lifecycle.ParseCommand(ev.Message.Type)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %w", apigw.ErrUnknownMessage, err)}
	}

	e.log.Info("Control message %s from %s", cmd, identity.DisplayName)
	e.lifecycle.Control(ev.ctx(), cmd)
	return Result{}
}
