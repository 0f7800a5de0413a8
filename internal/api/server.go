// Package api exposes the HTTP surface: the streaming turn endpoint,
// conversation lifecycle, history reads, and health probes.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/turn"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Config     *config.Config   // Required
	Controller *turn.Controller // Required
	Store      *chat.Store      // Required
	Pool       *pgxpool.Pool    // Optional: nil disables pool checks in /ready
	Logger     log.Logger
	IsDev      bool // Disables HSTS
	RateBurst  int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Controller == nil {
		return nil, errors.New("turn controller is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("chat store is required")
	}
	if len(cfg.Config.HMACSecret) < 32 {
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		controller: cfg.Controller,
		store:      cfg.Store,
		logger:     logger,
	}
	hh := &historyHandler{
		cfg:    cfg.Config,
		store:  cfg.Store,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("DELETE /api/v1/chat", ch.remove)
	mux.HandleFunc("GET /api/v1/history", hh.listChats)
	mux.HandleFunc("GET /api/v1/models", hh.listModels)
	mux.HandleFunc("GET /api/v1/documents/{id}", hh.getDocument)
	mux.HandleFunc("GET /api/v1/suggestions", hh.listSuggestions)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Identity → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware([]byte(cfg.Config.HMACSecret), logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.Config.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.Config.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	heh := &healthHandler{pool: cfg.Pool, logger: logger}
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", heh.liveness)
	topMux.HandleFunc("GET /ready", heh.readiness)
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
