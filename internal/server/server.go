package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xuanvinh1997/open-term/internal/rdp"
	"github.com/xuanvinh1997/open-term/internal/session"
)

// Server is the remote desktop gateway: a REST surface for session
// lifecycle, a WebSocket hub for frames and input, and a metrics
// endpoint.
type Server struct {
	config     *Config
	httpServer *http.Server
	sessions   *session.Manager
	hub        *Hub
	metrics    *Metrics
	registry   *prometheus.Registry
}

// New creates a gateway server around a fresh session manager.
func New(cfg *Config, opts ...session.Option) *Server {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	hub := NewHub(metrics)
	sessions := session.NewManager(hub, opts...)
	hub.BindInput(sessions.SendInput)

	s := &Server{
		config:   cfg,
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
		registry: registry,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/rdp", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Get("/sessions/{sessionID}/dimensions", s.handleDimensions)
	})
	r.Get("/ws", hub.HandleWS)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run starts the server and blocks until it stops.
func (s *Server) Run() error {
	log.Printf("gateway listening on %s", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and tears down every
// session.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	s.sessions.CloseAll()
	s.metrics.ActiveSessions.Set(0)
}

type connectRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Quality  string `json:"quality,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Host == "" || req.Username == "" {
		http.Error(w, "host and username are required", http.StatusBadRequest)
		return
	}

	if req.Quality == "" {
		req.Quality = s.config.DefaultQuality
	}
	quality, err := rdp.ParseQuality(req.Quality)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Width <= 0 {
		req.Width = s.config.DefaultWidth
	}
	if req.Height <= 0 {
		req.Height = s.config.DefaultHeight
	}

	cfg := rdp.Config{
		Host:        req.Host,
		Port:        req.Port,
		Username:    req.Username,
		Password:    req.Password,
		Domain:      req.Domain,
		Width:       uint16(req.Width),
		Height:      uint16(req.Height),
		Quality:     quality,
		DialTimeout: s.config.DialTimeout,
	}

	sessionID, err := s.sessions.CreateSession(r.Context(), cfg)
	if err != nil {
		log.Printf("connect to %s failed: %v", req.Host, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := s.sessions.StartWorker(sessionID); err != nil {
		s.sessions.CloseSession(sessionID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))

	width, height, _ := s.sessions.GetDimensions(sessionID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_id": sessionID,
		"width":      width,
		"height":     height,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	if err := s.sessions.CloseSession(req.SessionID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "closed"})
}

func (s *Server) handleDimensions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	width, height, err := s.sessions.GetDimensions(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"width":  width,
		"height": height,
	})
}
