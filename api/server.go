// Package api exposes the lesson controllers to the chat routing layer over
// HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/engine"
	"github.com/linguapulse/lesson/messaging"
)

// DefaultHandlerTimeout bounds one lesson request, including the end of
// lesson analysis.
const DefaultHandlerTimeout = 5 * time.Minute

// Lessons is the part of engine.Controller the HTTP layer drives.
type Lessons interface {
	Start(ctx context.Context, learnerID string) (engine.StartResult, error)
	HandleVoiceTurn(ctx context.Context, turn engine.VoiceTurn) (engine.TurnResult, error)
}

var _ Lessons = (*engine.Controller)(nil)

// Config configures a Server. Messenger and Metrics are optional.
type Config struct {
	Lessons        map[lesson.Kind]Lessons
	Messenger      messaging.Messenger
	Metrics        http.Handler
	HandlerTimeout time.Duration
	Logger         *slog.Logger
}

// Server routes lesson requests to the controller of their variant.
type Server struct {
	lessons        map[lesson.Kind]Lessons
	messenger      messaging.Messenger
	metrics        http.Handler
	handlerTimeout time.Duration
	logger         *slog.Logger
	mux            *http.ServeMux
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}

	s := &Server{
		lessons:        cfg.Lessons,
		messenger:      cfg.Messenger,
		metrics:        cfg.Metrics,
		handlerTimeout: cfg.HandlerTimeout,
		logger:         cfg.Logger,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /v1/lessons/{variant}/start", s.handleStart)
	s.mux.HandleFunc("POST /v1/lessons/{variant}/voice", s.handleVoice)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the server's handler wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoverPanics(s.logger, h)
	h = accessLog(s.logger, h)
	h = requestID(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
