package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/antoniostano/japlvoice/internal/audio"
	"github.com/antoniostano/japlvoice/internal/config"
	"github.com/antoniostano/japlvoice/internal/memory"
	"github.com/antoniostano/japlvoice/internal/observability"
	"github.com/antoniostano/japlvoice/internal/session"
	"github.com/antoniostano/japlvoice/internal/twilio"
	"github.com/antoniostano/japlvoice/internal/voice"
)

const rootBanner = "Backend for JAPL 1.0 Voice Assistant is running."

// Orchestrator runs one caller turn. *voice.Orchestrator satisfies it.
type Orchestrator interface {
	RunTurn(ctx context.Context, req voice.TurnRequest) (*voice.Turn, error)
	Dialog() twilio.Dialog
	Strategy() voice.SynthesisStrategy
	Latency() voice.LatencyReport
}

// ClipSource serves audio published in hosted playback mode.
type ClipSource interface {
	Get(id string) (audio.Clip, error)
}

type Deps struct {
	Sessions     *session.Manager
	Orchestrator Orchestrator
	// History is optional; terminal call statuses forget the call's exchanges.
	History memory.Store
	// Clips is nil unless playback is hosted in memory.
	Clips   ClipSource
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	history      memory.Store
	clips        ClipSource
	metrics      *observability.Metrics
	logger       *zap.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewManager(cfg.CallInactivity)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: deps.Orchestrator,
		history:      deps.History,
		clips:        deps.Clips,
		metrics:      deps.Metrics,
		logger:       logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/twilio", func(r chi.Router) {
		r.Get("/audio/{id}", s.handleAudio)

		r.Group(func(r chi.Router) {
			if s.cfg.TwilioValidateSignature {
				r.Use(s.requireTwilioSignature)
			}
			if s.cfg.RateLimitPerMinute > 0 {
				r.Use(httprate.Limit(s.cfg.RateLimitPerMinute, time.Minute, httprate.WithKeyFuncs(callRateKey)))
			}
			r.Post("/voice", s.webhook("voice", s.handleVoice))
			r.Post("/recording", s.webhook("recording", s.handleRecording))
			r.Post("/recording-status", s.webhook("recording_status", s.handleRecordingStatus))
			r.Post("/call-status", s.webhook("call_status", s.handleCallStatus))
		})
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondText(w, http.StatusOK, rootBanner)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"active_calls":       s.sessions.ActiveCount(),
		"synthesis_strategy": s.orchestrator.Strategy(),
		"playback_mode":      s.playbackMode(),
	})
}

func (s *Server) playbackMode() string {
	if s.cfg.PlaybackMode == "" {
		return "inline"
	}
	return s.cfg.PlaybackMode
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func respondTwiML(w http.ResponseWriter, status int, markup []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(markup)
}
