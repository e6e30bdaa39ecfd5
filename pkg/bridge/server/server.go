// Package server assembles the bridge's HTTP surface: the websocket
// endpoint, health and debug endpoints, and the static frontend.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxide-dev/voxide/pkg/bridge/config"
	"github.com/voxide-dev/voxide/pkg/bridge/mw"
	"github.com/voxide-dev/voxide/pkg/bridge/session"
)

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	dial     session.Dialer
	sessions *Tracker
}

func New(cfg config.Config, logger *slog.Logger, dial session.Dialer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		dial:     dial,
		sessions: NewTracker(),
	}
}

// Sessions exposes the session tracker for graceful shutdown.
func (s *Server) Sessions() *Tracker { return s.sessions }

// Handler returns the full route tree wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/debug/sessions", s.handleDebugSessions)
	mux.HandleFunc("/ws", s.handleWS)

	if s.cfg.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.cfg.StaticDir))
		mux.Handle("/", fs)
		mux.Handle("/static/", http.StripPrefix("/static/", fs))
	}

	var handler http.Handler = mux
	handler = mw.AccessLog(s.logger, handler)
	handler = mw.CORS(s.cfg.CORSAllowedOrigins, handler)
	handler = mw.Recover(s.logger, handler)
	handler = mw.RequestID(handler)
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"active_sessions": s.sessions.Count(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.cfg.OriginAllowed(r.Header.Get("Origin")) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	// Origin was already checked against the configured allowlist.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := "sess_" + uuid.NewString()
	sess := session.New(sessionID, conn, s.cfg, s.logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := s.sessions.Register(sessionID, Handle{
		Cancel: cancel,
		Warn:   sess.Notify,
	})
	defer unregister()

	if err := sess.Run(ctx, s.dial); err != nil {
		s.logger.Error("session ended with error", "session_id", sessionID, "error", err)
	}
}
