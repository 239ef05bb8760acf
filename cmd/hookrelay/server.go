package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"hookrelay/internal/database"
	apperrors "hookrelay/internal/errors"
	"hookrelay/internal/events"
	"hookrelay/internal/metrics"
	"hookrelay/internal/middleware"
	"hookrelay/internal/models"
	"hookrelay/internal/queue"
	"hookrelay/internal/service"
)

const maxIngestBodyBytes = 1 << 20

type Server struct {
	cfg          *models.Config
	router       *mux.Router
	logger       *logrus.Logger
	db           *database.Database
	orchestrator *service.Orchestrator
	queue        *queue.Queue
	hub          *events.Hub
	server       *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, orchestrator *service.Orchestrator, q *queue.Queue, hub *events.Hub, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		router:       mux.NewRouter(),
		logger:       logger,
		db:           db,
		orchestrator: orchestrator,
		queue:        q,
		hub:          hub,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.Handle("/ws/events", s.hub).Methods(http.MethodGet)

	// Inbound alert ingestion, rate limited per caller IP.
	ingestLimiter := middleware.NewRateLimiter(s.cfg.Server.IngestRatePerMin, time.Minute)
	ingest := s.router.PathPrefix("/webhook").Subrouter()
	ingest.Use(ingestLimiter.Middleware)
	ingest.HandleFunc("/{endpoint}", s.handleIngest()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/webhooks", s.handleCreateWebhook()).Methods(http.MethodPost)
	api.HandleFunc("/webhooks", s.handleListWebhooks()).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}", s.handleGetWebhook()).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}", s.handleSetWebhookActive()).Methods(http.MethodPatch)
	api.HandleFunc("/webhooks/{id}/channels", s.handleListWebhookChannels()).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}/channels/{channelId}", s.handleAttachChannel()).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/{id}/channels/{channelId}", s.handleDetachChannel()).Methods(http.MethodDelete)

	api.HandleFunc("/channels", s.handleCreateChannel()).Methods(http.MethodPost)
	api.HandleFunc("/channels", s.handleListChannels()).Methods(http.MethodGet)

	api.HandleFunc("/alerts", s.handleListAlerts()).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", s.handleGetAlert()).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/process", s.handleProcessAlert()).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/retry", s.handleRetryAlert()).Methods(http.MethodPost)

	api.HandleFunc("/stats", s.handleStats()).Methods(http.MethodGet)
	api.HandleFunc("/jobs/stats", s.handleJobStats()).Methods(http.MethodGet)
	api.HandleFunc("/jobs/retry", s.handleRetryJobs()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.GetRegistry().GetAllMetrics()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := mux.Vars(r)["endpoint"]

		secretKey := r.Header.Get("X-Secret-Key")
		if secretKey == "" {
			secretKey = r.URL.Query().Get("key")
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBodyBytes))
		if err != nil {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "failed to read request body"))
			return
		}
		if len(body) == 0 {
			body = []byte("{}")
		}
		if !json.Valid(body) {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "request body must be JSON"))
			return
		}

		alert, err := s.orchestrator.Ingest(r.Context(), endpoint, secretKey, body)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, alert)
	}
}

func (s *Server) handleCreateWebhook() http.HandlerFunc {
	type request struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Endpoint    string `json:"endpoint"`
		SecretKey   string `json:"secretKey"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		if req.Name == "" || req.Endpoint == "" {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "name and endpoint are required"))
			return
		}
		if req.SecretKey == "" {
			req.SecretKey = uuid.NewString()
		}

		now := time.Now()
		webhook := &models.Webhook{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			Endpoint:    req.Endpoint,
			SecretKey:   req.SecretKey,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.db.CreateWebhook(r.Context(), webhook); err != nil {
			s.writeError(w, apperrors.NewStoreError("create webhook", err))
			return
		}
		s.writeJSON(w, http.StatusCreated, webhook)
	}
}

func (s *Server) handleListWebhooks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		webhooks, err := s.db.ListWebhooks(r.Context())
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("list webhooks", err))
			return
		}
		s.writeJSON(w, http.StatusOK, webhooks)
	}
}

func (s *Server) handleGetWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		webhook, err := s.db.GetWebhook(r.Context(), id)
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("get webhook", err))
			return
		}
		if webhook == nil {
			s.writeError(w, apperrors.NewNotFoundError("webhook", id))
			return
		}
		s.writeJSON(w, http.StatusOK, webhook)
	}
}

func (s *Server) handleSetWebhookActive() http.HandlerFunc {
	type request struct {
		IsActive *bool `json:"isActive"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "isActive is required"))
			return
		}
		if err := s.db.SetWebhookActive(r.Context(), id, *req.IsActive); err != nil {
			s.writeError(w, apperrors.NewStoreError("update webhook", err))
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "isActive": *req.IsActive})
	}
}

func (s *Server) handleListWebhookChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		channels, err := s.db.ListWebhookChannels(r.Context(), id)
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("list webhook channels", err))
			return
		}
		s.writeJSON(w, http.StatusOK, channels)
	}
}

func (s *Server) handleAttachChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		wc := &models.WebhookChannel{
			WebhookID: vars["id"],
			ChannelID: vars["channelId"],
			IsActive:  true,
			CreatedAt: time.Now(),
		}
		if err := s.db.AttachChannel(r.Context(), wc); err != nil {
			s.writeError(w, apperrors.NewStoreError("attach channel", err))
			return
		}
		s.writeJSON(w, http.StatusCreated, wc)
	}
}

func (s *Server) handleDetachChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.db.DetachChannel(r.Context(), vars["id"], vars["channelId"]); err != nil {
			s.writeError(w, apperrors.NewStoreError("detach channel", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCreateChannel() http.HandlerFunc {
	type request struct {
		Name   string          `json:"name"`
		Type   string          `json:"type"`
		Config json.RawMessage `json:"config"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		channelType := models.ChannelType(req.Type)
		if req.Name == "" || !channelType.Valid() {
			s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "name and a valid channel type are required"))
			return
		}

		channel := &models.Channel{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Type:      channelType,
			Config:    req.Config,
			IsActive:  true,
			CreatedAt: time.Now(),
		}
		if err := s.db.CreateChannel(r.Context(), channel); err != nil {
			s.writeError(w, apperrors.NewStoreError("create channel", err))
			return
		}
		s.writeJSON(w, http.StatusCreated, channel)
	}
}

func (s *Server) handleListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := s.db.ListChannels(r.Context())
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("list channels", err))
			return
		}
		s.writeJSON(w, http.StatusOK, channels)
	}
}

func (s *Server) handleListAlerts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 || limit > 500 {
				s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "limit must be between 1 and 500"))
				return
			}
		}
		alerts, err := s.db.ListRecentAlerts(r.Context(), limit)
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("list alerts", err))
			return
		}
		s.writeJSON(w, http.StatusOK, alerts)
	}
}

func (s *Server) handleGetAlert() http.HandlerFunc {
	type response struct {
		Alert      *models.Alert          `json:"alert"`
		Deliveries []models.AlertDelivery `json:"deliveries"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		alert, err := s.db.GetAlert(r.Context(), id)
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("get alert", err))
			return
		}
		if alert == nil {
			s.writeError(w, apperrors.NewNotFoundError("alert", id))
			return
		}
		deliveries, err := s.db.ListDeliveriesByAlert(r.Context(), id)
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("list deliveries", err))
			return
		}
		s.writeJSON(w, http.StatusOK, response{Alert: alert, Deliveries: deliveries})
	}
}

func (s *Server) handleProcessAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		alert, err := s.orchestrator.Process(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, alert)
	}
}

func (s *Server) handleRetryAlert() http.HandlerFunc {
	type response struct {
		Alert   *models.Alert `json:"alert"`
		Retried int           `json:"retried"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		alert, retried, err := s.orchestrator.RetryFailedDeliveries(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, response{Alert: alert, Retried: retried})
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.db.DeliveryStatistics(r.Context(), time.Now().Add(-24*time.Hour))
		if err != nil {
			s.writeError(w, apperrors.NewStoreError("delivery statistics", err))
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleJobStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.queue.GetStats(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleRetryJobs() http.HandlerFunc {
	type response struct {
		Reset int64 `json:"reset"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		jobType := r.URL.Query().Get("type")
		count, err := s.queue.RetryFailedJobs(r.Context(), jobType)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, response{Reset: count})
	}
}
