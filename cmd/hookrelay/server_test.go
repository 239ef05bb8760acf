package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/constants"
	"hookrelay/internal/database"
	"hookrelay/internal/events"
	"hookrelay/internal/models"
	"hookrelay/internal/queue"
	"hookrelay/internal/service"
	"hookrelay/pkg/notify"
)

type testEnv struct {
	server  *Server
	db      *database.Database
	queue   *queue.Queue
	discord *httptest.Server
	hits    *int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "server-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db, logger, queue.Options{
		PollInterval:       time.Second,
		Concurrency:        constants.DefaultConcurrency,
		JobTimeout:         5 * time.Second,
		DefaultMaxAttempts: constants.DefaultMaxAttempts,
	})

	hub := events.NewHub(logger)
	senders := service.NewSenderRegistry(logger)
	senders.RegisterDefaults()

	orchestrator := service.NewOrchestrator(db, senders, hub, logger)
	orchestrator.SetJobEnqueuer(service.QueueEnqueuer{Queue: q})
	service.NewJobHandlers(orchestrator, q, db, notify.NewEmailSender(), notify.EmailConfig{}, logger).Register()

	hits := 0
	discord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(discord.Close)

	cfg := &models.Config{
		Server: models.ServerConfig{
			Port:             constants.DefaultServerPort,
			IngestRatePerMin: 1000,
		},
	}

	return &testEnv{
		server:  NewServer(cfg, db, orchestrator, q, hub, logger),
		db:      db,
		queue:   q,
		discord: discord,
		hits:    &hits,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.router.ServeHTTP(rec, req)
	return rec
}

// createDeliveryTarget provisions a webhook with one attached discord
// channel pointing at the stub delivery endpoint.
func (e *testEnv) createDeliveryTarget(t *testing.T) (webhookID, channelID, secretKey string) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/webhooks", map[string]string{
		"name":      "Price Alerts",
		"endpoint":  "price-alerts",
		"secretKey": "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var wh models.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wh))

	rec = e.do(t, http.MethodPost, "/api/channels", map[string]interface{}{
		"name":   "discord-main",
		"type":   "DISCORD",
		"config": map[string]string{"webhookUrl": e.discord.URL},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ch models.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/webhooks/%s/channels/%s", wh.ID, ch.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	return wh.ID, ch.ID, "s3cret"
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, json.Valid(rec.Body.Bytes()))
}

func TestCreateWebhookValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/webhooks", map[string]string{"name": "no endpoint"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWebhookGeneratesSecret(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/webhooks", map[string]string{
		"name":     "Generated",
		"endpoint": "generated",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var wh models.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wh))
	assert.NotEmpty(t, wh.SecretKey)
	assert.True(t, wh.IsActive)
}

func TestCreateChannelRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/channels", map[string]interface{}{
		"name":   "bad",
		"type":   "CARRIER_PIGEON",
		"config": map[string]string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWebhookNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/webhooks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetWebhookActive(t *testing.T) {
	env := newTestEnv(t)
	webhookID, _, _ := env.createDeliveryTarget(t)

	rec := env.do(t, http.MethodPatch, "/api/webhooks/"+webhookID, map[string]bool{"isActive": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/webhooks/"+webhookID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wh models.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wh))
	assert.False(t, wh.IsActive)
}

func TestIngestUnknownEndpointReturns404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/webhook/nobody-home", map[string]string{"msg": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestInvalidSecretReturns401(t *testing.T) {
	env := newTestEnv(t)
	env.createDeliveryTarget(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/price-alerts", bytes.NewBufferString(`{"msg":"hi"}`))
	req.Header.Set("X-Secret-Key", "wrong")
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	env.createDeliveryTarget(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/price-alerts", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestAcceptsEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	env.createDeliveryTarget(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/price-alerts?key=s3cret", nil)
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestIngestProcessRetryFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createDeliveryTarget(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/price-alerts", bytes.NewBufferString(`{"msg":"BTC crossed 50000"}`))
	req.Header.Set("X-Secret-Key", "s3cret")
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var alert models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	assert.Equal(t, models.AlertStatusReceived, alert.Status)
	assert.Equal(t, "BTC crossed 50000", alert.Message)

	// Drive the delivery synchronously instead of waiting on the queue.
	rec = env.do(t, http.MethodPost, "/api/alerts/"+alert.ID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var processed models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &processed))
	assert.Equal(t, models.AlertStatusDelivered, processed.Status)
	assert.Equal(t, 1, *env.hits)

	rec = env.do(t, http.MethodGet, "/api/alerts/"+alert.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Alert      *models.Alert          `json:"alert"`
		Deliveries []models.AlertDelivery `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Deliveries, 1)
	assert.Equal(t, models.DeliveryStatusSent, detail.Deliveries[0].Status)

	// Nothing failed, so retry is a no-op.
	rec = env.do(t, http.MethodPost, "/api/alerts/"+alert.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var retry struct {
		Retried int `json:"retried"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retry))
	assert.Equal(t, 0, retry.Retried)
	assert.Equal(t, 1, *env.hits)
}

func TestProcessUnknownAlertReturns404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/alerts/nope/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAlertsLimitValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/alerts?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/alerts?limit=501", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/alerts?limit=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createDeliveryTarget(t)

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.DeliveryStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalWebhooks)
	assert.Equal(t, 1, stats.TotalChannels)
}

func TestJobStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createDeliveryTarget(t)

	// Ingest enqueues a processing job.
	req := httptest.NewRequest(http.MethodPost, "/webhook/price-alerts?key=s3cret", bytes.NewBufferString(`{"msg":"hi"}`))
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pending)
}

func TestRetryJobsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := &models.Job{
		ID:          "job-1",
		Type:        models.JobTypeSendEmail,
		Payload:     json.RawMessage(`{}`),
		Status:      models.JobStatusPending,
		Priority:    models.JobPriorityMedium,
		MaxAttempts: 1,
		ScheduledAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, env.db.CreateJob(ctx, job))
	require.NoError(t, env.db.FailJob(ctx, job.ID, 1, "boom", time.Now().UTC()))

	rec := env.do(t, http.MethodPost, "/api/jobs/retry?type="+models.JobTypeSendEmail, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":1}`, rec.Body.String())
}

func TestDetachChannelRemovesAssociation(t *testing.T) {
	env := newTestEnv(t)
	webhookID, channelID, _ := env.createDeliveryTarget(t)

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/webhooks/%s/channels/%s", webhookID, channelID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/webhooks/"+webhookID+"/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var assocs []models.WebhookChannel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assocs))
	assert.Empty(t, assocs)
}
