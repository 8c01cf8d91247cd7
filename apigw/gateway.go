package apigw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"shellproxy/logger"
)

// Ошибки доставки управляющих сообщений, которые Gateway переводит в HTTP коды
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUnknownMessage = errors.New("unknown message type")
)

// maxMessageSize ограничивает тело управляющего сообщения
const maxMessageSize = 4 << 10

// Gateway - прослойка между HTTP и диспетчером событий: превращает входящие
// запросы в события fetch/message и отправляет результат клиенту.
type Gateway struct {
	config         Config
	handler        RequestHandler
	upstream       Upstream
	parser         *RequestParser
	responseWriter *ResponseWriter
	server         *http.Server
	metrics        *Metrics
}

// New создает новый экземпляр API Gateway
func New(config Config, handler RequestHandler, upstream Upstream) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	origin, _ := config.originURL()
	if config.MessagePath == "" {
		config.MessagePath = DefaultConfig().MessagePath
	}

	return &Gateway{
		config:         config,
		handler:        handler,
		upstream:       upstream,
		parser:         NewRequestParser(origin, config.NavigateByAccept),
		responseWriter: NewResponseWriter(),
		metrics:        NewMetrics(),
	}, nil
}

// ServeHTTP реализует интерфейс http.Handler
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.Debug("Incoming request: %s %s", r.Method, r.URL)

	if r.URL.Path == gw.config.MessagePath && !r.URL.IsAbs() {
		gw.serveMessage(w, r)
		return
	}

	req := gw.parser.Parse(r)

	// Передаем управление диспетчеру
	resp := gw.handler.Intercept(req)
	if resp == nil {
		resp = gw.passThrough(req)
	}

	if err := gw.responseWriter.WriteResponse(w, resp); err != nil {
		logger.Debug("Failed to write response: %v", err)
	}

	status := resp.StatusCode
	if resp.Error != nil {
		status = http.StatusBadGateway
	}
	logger.Info("%s %s -> %d (%s), %.3f ms", r.Method, req.URL, status, resp.Source,
		float64(time.Since(start).Microseconds())/1000.0)

	gw.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status), resp.Source.String()).Inc()
	gw.metrics.RequestLatency.WithLabelValues(r.Method, resp.Source.String()).Observe(time.Since(start).Seconds())
}

// passThrough выполняет запрос без посредничества прокси
func (gw *Gateway) passThrough(req *Request) *Response {
	logger.Debug("Passing through: %s %s", req.Method, req.URL)
	resp, err := gw.upstream.Fetch(req.Ctx(), req)
	if err != nil {
		return &Response{Source: SourceNetwork, Error: err}
	}
	return resp
}

// serveMessage принимает управляющее сообщение. Ответ не содержит результата
// команды: отправитель узнает только о том, что сообщение принято.
func (gw *Gateway) serveMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg Message
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err == nil {
		err = json.Unmarshal(data, &msg)
	}
	if err != nil {
		gw.metrics.MessagesTotal.WithLabelValues("invalid", "rejected").Inc()
		http.Error(w, fmt.Sprintf("invalid message: %v", err), http.StatusBadRequest)
		return
	}

	req := gw.parser.Parse(r)
	err = gw.handler.Message(req, msg)
	switch {
	case err == nil:
		gw.metrics.MessagesTotal.WithLabelValues(msg.Type, "accepted").Inc()
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrUnauthorized):
		logger.Warn("Rejected control message %q: %v", msg.Type, err)
		gw.metrics.MessagesTotal.WithLabelValues(msg.Type, "unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, ErrUnknownMessage):
		gw.metrics.MessagesTotal.WithLabelValues("unknown", "rejected").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		gw.metrics.MessagesTotal.WithLabelValues(msg.Type, "error").Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Start запускает сервер
func (gw *Gateway) Start() error {
	gw.server = &http.Server{
		Addr:         gw.config.ListenAddress,
		Handler:      gw,
		ReadTimeout:  gw.config.ReadTimeout,
		WriteTimeout: gw.config.WriteTimeout,
	}

	logger.Info("Starting API Gateway on %s (origin %s)", gw.config.ListenAddress, gw.config.Origin)

	if gw.config.TLSCertFile != "" && gw.config.TLSKeyFile != "" {
		logger.Info("Starting HTTPS server with TLS")
		return gw.server.ListenAndServeTLS(gw.config.TLSCertFile, gw.config.TLSKeyFile)
	}

	logger.Info("Starting HTTP server")
	return gw.server.ListenAndServe()
}

// Stop останавливает сервер
func (gw *Gateway) Stop(ctx context.Context) error {
	if gw.server == nil {
		return nil
	}

	logger.Info("Stopping API Gateway...")
	return gw.server.Shutdown(ctx)
}
