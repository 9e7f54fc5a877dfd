package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wamux/internal/middleware"
	"wamux/internal/models"
	"wamux/internal/service"
	"wamux/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxRequestBodyBytes = 1 << 20

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      models.ServerConfig
	sessions *service.SessionManager
	webhooks *webhook.Dispatcher
	server   *http.Server
}

func NewServer(cfg models.ServerConfig, sessions *service.SessionManager, webhooks *webhook.Dispatcher, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		sessions: sessions,
		webhooks: webhooks,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	sessions := s.router.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("", s.handleListSessions()).Methods(http.MethodGet)
	sessions.HandleFunc("/start", s.handleStartSession()).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/status", s.handleSessionStatus()).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}", s.handleDeleteSession()).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/webhooks", s.handleListWebhooks()).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/webhooks", s.handleRegisterWebhook()).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/webhooks", s.handleUnregisterWebhook()).Methods(http.MethodDelete)

	s.router.HandleFunc("/send", s.handleSend()).Methods(http.MethodPost)
	s.router.HandleFunc("/send-media/location", s.handleSendLocation()).Methods(http.MethodPost)
	s.router.HandleFunc("/presence/{kind}", s.handlePresence()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"sessions": len(s.sessions.GetAllSessions()),
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
