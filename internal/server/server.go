// Package server exposes dialogue sessions over HTTP and WebSocket.
//
// Every WebSocket connection on /ws owns one [engine.Engine]. Client text
// frames are JSON commands, server text frames are JSON events and errors,
// and binary frames carry PCM audio when a TTS provider is configured.
//
// Routes:
//
//   - GET /scene          summary of the current scene and its issues
//   - GET /schema/scene   JSON Schema of the scene document
//   - GET /sessions       live sessions
//   - GET /ws             dialogue session
//   - GET /healthz, /readyz
//   - GET /metrics        Prometheus exposition
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

// Server serves the HTTP routes. Create it with [New].
type Server struct {
	graph    func() *scene.Graph
	provider tts.Provider
	guard    speech.Guard
	speech   config.SpeechConfig
	origins  []string
	checkers []health.Checker
	metrics  *observe.Metrics
	promh    http.Handler
	logger   *slog.Logger
	sessions *Sessions
	maxSess  int

	handler http.Handler
}

// Option is a functional option for [New].
type Option func(*Server)

// WithTTS enables the audio backend. Synthesis attempts run through guard
// when it is non-nil.
func WithTTS(p tts.Provider, guard speech.Guard) Option {
	return func(s *Server) {
		s.provider = p
		s.guard = guard
	}
}

// WithSpeech sets reading times, voices and the initial audio preference.
// Defaults to [config.Default]'s speech settings.
func WithSpeech(cfg config.SpeechConfig) Option {
	return func(s *Server) { s.speech = cfg }
}

// WithAllowedOrigins sets the host patterns accepted for cross-origin
// WebSocket connections.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithCheckers adds readiness checks next to the scene check.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithMaxSessions caps concurrent sessions. 0 means unlimited.
func WithMaxSessions(n int) Option {
	return func(s *Server) { s.maxSess = n }
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. Defaults to
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promh = h }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server. graph returns the scene new sessions start on; it is
// called once per connection and again on every restart, so a reloaded scene
// reaches running sessions at their next restart.
func New(graph func() *scene.Graph, opts ...Option) *Server {
	s := &Server{
		graph:  graph,
		speech: config.Default().Speech,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.promh == nil {
		s.promh = promhttp.Handler()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.sessions = NewSessions(s.maxSess)

	checks := append([]health.Checker{health.SceneChecker(graph)}, s.checkers...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /scene", s.handleScene)
	mux.HandleFunc("GET /schema/scene", s.handleSchema)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", s.promh)
	health.New(checks...).Register(mux)

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Sessions returns the live session registry.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Close ends every live session. It does not stop the HTTP listener.
func (s *Server) Close() {
	s.sessions.CloseAll()
}

// ─── HTTP handlers ───────────────────────────────────────────────────────────

type sceneSummary struct {
	ID      string              `json:"id"`
	Title   scene.LocalizedText `json:"title"`
	Context *scene.Context      `json:"context,omitempty"`
	Nodes   int                 `json:"nodes"`
	Start   string              `json:"start"`
	Issues  []string            `json:"issues"`
}

func (s *Server) handleScene(w http.ResponseWriter, _ *http.Request) {
	g := s.graph()
	if g == nil {
		writeError(w, http.StatusServiceUnavailable, "no scene loaded")
		return
	}
	meta := g.Meta()
	writeJSON(w, http.StatusOK, sceneSummary{
		ID:      meta.ID,
		Title:   meta.Title,
		Context: meta.Context,
		Nodes:   len(g.Nodes()),
		Start:   g.Start(),
		Issues:  append([]string{}, g.Issues().Strings()...),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	data, err := scene.SchemaJSON()
	if err != nil {
		s.logger.Error("render scene schema", "err", err)
		writeError(w, http.StatusInternalServerError, "schema unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
