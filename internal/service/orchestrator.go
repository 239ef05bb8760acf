// Package service contains the alert fan-out orchestration: ingesting
// webhook calls, creating delivery sets, attempting channel sends and
// aggregating the per-channel outcomes into an alert-level status.
package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	apperrors "hookrelay/internal/errors"
	"hookrelay/internal/events"
	"hookrelay/internal/metrics"
	"hookrelay/internal/models"
	"hookrelay/internal/template"
	"hookrelay/internal/tracing"
)

// Store is the persistence surface the orchestrator needs. The sqlite
// layer satisfies it.
type Store interface {
	GetWebhookByEndpoint(ctx context.Context, endpoint string) (*models.Webhook, error)
	ListWebhookChannels(ctx context.Context, webhookID string) ([]models.WebhookChannel, error)
	CreateAlertWithDeliveries(ctx context.Context, alert *models.Alert, deliveries []models.AlertDelivery) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus, sentAt *time.Time) error
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	GetDelivery(ctx context.Context, id string) (*models.AlertDelivery, error)
	ListDeliveriesByAlert(ctx context.Context, alertID string) ([]models.AlertDelivery, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status models.DeliveryStatus, response string, sentAt *time.Time) error
}

// JobEnqueuer decouples the orchestrator from the queue so ingest can
// schedule processing without a circular dependency.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, priority models.JobPriority) (string, error)
}

// Orchestrator owns the alert lifecycle from ingest through delivery.
type Orchestrator struct {
	store   Store
	senders *SenderRegistry
	jobs    JobEnqueuer
	hub     *events.Hub
	logger  *logrus.Logger
}

func NewOrchestrator(store Store, senders *SenderRegistry, hub *events.Hub, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		senders: senders,
		hub:     hub,
		logger:  logger,
	}
}

// SetJobEnqueuer wires the queue in after construction. The queue's
// handlers need the orchestrator, so this link is made last.
func (o *Orchestrator) SetJobEnqueuer(jobs JobEnqueuer) {
	o.jobs = jobs
}

// Ingest accepts one webhook call: it authenticates the caller, creates
// the alert and its complete delivery set in a single transaction, and
// schedules asynchronous processing. Channels whose association is
// inactive at this moment get no delivery row and are never revisited.
func (o *Orchestrator) Ingest(ctx context.Context, endpoint, secretKey string, payload json.RawMessage) (*models.Alert, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.ingest",
		attribute.String("webhook.endpoint", endpoint),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	webhook, err := o.store.GetWebhookByEndpoint(ctx, endpoint)
	if err != nil {
		err = apperrors.NewStoreError("lookup webhook", err)
		return nil, err
	}
	if webhook == nil || !webhook.IsActive {
		err = apperrors.NewWebhookInactiveError(endpoint)
		return nil, err
	}
	if secretKey != "" && subtle.ConstantTimeCompare([]byte(secretKey), []byte(webhook.SecretKey)) != 1 {
		err = apperrors.NewInvalidSecretError(endpoint)
		return nil, err
	}

	associations, err := o.store.ListWebhookChannels(ctx, webhook.ID)
	if err != nil {
		err = apperrors.NewStoreError("list webhook channels", err)
		return nil, err
	}

	now := time.Now()
	alert := &models.Alert{
		ID:        uuid.NewString(),
		WebhookID: webhook.ID,
		Message:   extractMessage(payload),
		RawData:   payload,
		Status:    models.AlertStatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var deliveries []models.AlertDelivery
	for _, assoc := range associations {
		if !assoc.IsActive || assoc.Channel == nil || !assoc.Channel.IsActive {
			continue
		}
		deliveries = append(deliveries, models.AlertDelivery{
			ID:        uuid.NewString(),
			AlertID:   alert.ID,
			ChannelID: assoc.ChannelID,
			Status:    models.DeliveryStatusPending,
			CreatedAt: now,
		})
	}

	if err = o.store.CreateAlertWithDeliveries(ctx, alert, deliveries); err != nil {
		err = apperrors.NewStoreError("create alert", err)
		return nil, err
	}

	metrics.IncrementCounter("alerts_ingested_total",
		map[string]string{"webhook": webhook.Endpoint}, "Alerts accepted via webhook")
	o.publish(events.Event{
		Type:    events.EventAlertReceived,
		AlertID: alert.ID,
		Status:  string(alert.Status),
	})
	o.logger.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"webhook_id": webhook.ID,
		"deliveries": len(deliveries),
	}).Info("Alert ingested")

	if o.jobs != nil {
		if _, jobErr := o.jobs.Enqueue(ctx, models.JobTypeProcessAlert, models.ProcessAlertPayload{
			AlertID:   alert.ID,
			WebhookID: webhook.ID,
		}, models.JobPriorityHigh); jobErr != nil {
			// The alert is durable; a missed enqueue only delays
			// processing until an operator re-drives it.
			o.logger.WithError(jobErr).WithField("alert_id", alert.ID).Error("Failed to enqueue alert processing")
		}
	}

	return alert, nil
}

// Process runs one fan-out pass over an alert: every pending delivery is
// attempted once, independently, and the alert status is recomputed from
// the full delivery set. Deliveries already sent are never re-sent, so
// Process is safe to call repeatedly.
func (o *Orchestrator) Process(ctx context.Context, alertID string) (*models.Alert, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.process",
		attribute.String("alert.id", alertID),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		err = apperrors.NewStoreError("lookup alert", err)
		return nil, err
	}
	if alert == nil {
		err = apperrors.NewNotFoundError("alert", alertID)
		return nil, err
	}

	deliveries, err := o.store.ListDeliveriesByAlert(ctx, alertID)
	if err != nil {
		err = apperrors.NewStoreError("list deliveries", err)
		return nil, err
	}

	if err = o.store.UpdateAlertStatus(ctx, alertID, models.AlertStatusProcessing, nil); err != nil {
		err = apperrors.NewStoreError("update alert status", err)
		return nil, err
	}

	var pending []models.AlertDelivery
	for _, d := range deliveries {
		if d.Status == models.DeliveryStatusPending {
			pending = append(pending, d)
		}
	}

	// Fan out: each channel send succeeds or fails on its own. A failure
	// on one channel never aborts the others.
	var wg sync.WaitGroup
	results := make([]models.DeliveryStatus, len(pending))
	for i := range pending {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = o.attemptDelivery(ctx, alert, &pending[idx])
		}(i)
	}
	wg.Wait()

	statusIndex := make(map[string]models.DeliveryStatus, len(pending))
	for i, d := range pending {
		statusIndex[d.ID] = results[i]
	}
	for i := range deliveries {
		if s, ok := statusIndex[deliveries[i].ID]; ok {
			deliveries[i].Status = s
		}
	}

	return o.finalize(ctx, alert, deliveries)
}

// DeliverOne attempts a single delivery by id, used by the per-channel
// job type so each channel gets its own retry lifecycle. Returns an
// error when the send fails so the job is retried with backoff.
func (o *Orchestrator) DeliverOne(ctx context.Context, alertID, deliveryID string) error {
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		return apperrors.NewStoreError("lookup alert", err)
	}
	if alert == nil {
		return apperrors.NewNotFoundError("alert", alertID)
	}

	delivery, err := o.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return apperrors.NewStoreError("lookup delivery", err)
	}
	if delivery == nil {
		return apperrors.NewNotFoundError("delivery", deliveryID)
	}
	if delivery.Status == models.DeliveryStatusSent {
		return nil
	}

	status := o.attemptDelivery(ctx, alert, delivery)

	deliveries, err := o.store.ListDeliveriesByAlert(ctx, alertID)
	if err != nil {
		return apperrors.NewStoreError("list deliveries", err)
	}
	if _, err := o.finalize(ctx, alert, deliveries); err != nil {
		return err
	}

	if status == models.DeliveryStatusFailed {
		return apperrors.NewChannelSendError(delivery.ChannelID, nil)
	}
	return nil
}

// RetryFailedDeliveries re-attempts every failed delivery of an alert.
// This is the only path that re-drives a failed delivery; the alert
// status is recomputed from the refreshed set afterwards.
func (o *Orchestrator) RetryFailedDeliveries(ctx context.Context, alertID string) (*models.Alert, int, error) {
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, 0, apperrors.NewStoreError("lookup alert", err)
	}
	if alert == nil {
		return nil, 0, apperrors.NewNotFoundError("alert", alertID)
	}

	deliveries, err := o.store.ListDeliveriesByAlert(ctx, alertID)
	if err != nil {
		return nil, 0, apperrors.NewStoreError("list deliveries", err)
	}

	retried := 0
	for i := range deliveries {
		if deliveries[i].Status != models.DeliveryStatusFailed {
			continue
		}
		retried++
		deliveries[i].Status = o.attemptDelivery(ctx, alert, &deliveries[i])
	}

	o.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"retried":  retried,
	}).Info("Retried failed deliveries")

	updated, err := o.finalize(ctx, alert, deliveries)
	if err != nil {
		return nil, retried, err
	}
	return updated, retried, nil
}

// attemptDelivery renders the alert for the delivery's channel, sends
// it, and persists the new delivery status. Inactive channels fail the
// delivery without a send attempt.
func (o *Orchestrator) attemptDelivery(ctx context.Context, alert *models.Alert, delivery *models.AlertDelivery) models.DeliveryStatus {
	log := o.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"delivery_id": delivery.ID,
		"channel_id":  delivery.ChannelID,
	})

	channel, err := o.store.GetChannel(ctx, delivery.ChannelID)
	if err != nil || channel == nil {
		log.WithError(err).Error("Failed to load channel for delivery")
		o.recordDeliveryResult(ctx, delivery, models.DeliveryStatusFailed, "channel not found")
		return models.DeliveryStatusFailed
	}
	if !channel.IsActive {
		log.Warn("Channel inactive, failing delivery")
		o.recordDeliveryResult(ctx, delivery, models.DeliveryStatusFailed, "channel is inactive")
		return models.DeliveryStatusFailed
	}

	message := template.Render(channel.Type, alert.RawData)

	start := time.Now()
	response, err := o.senders.Send(ctx, channel.Type, channel.Config, message)
	metrics.RecordTimer("delivery_send_duration", time.Since(start),
		map[string]string{"channel_type": string(channel.Type)})

	if err != nil {
		metrics.IncrementCounter("deliveries_failed_total",
			map[string]string{"channel_type": string(channel.Type)}, "Failed channel deliveries")
		log.WithError(err).Warn("Channel send failed")
		o.recordDeliveryResult(ctx, delivery, models.DeliveryStatusFailed, err.Error())
		return models.DeliveryStatusFailed
	}

	metrics.IncrementCounter("deliveries_sent_total",
		map[string]string{"channel_type": string(channel.Type)}, "Successful channel deliveries")
	log.Info("Delivery sent")
	o.recordDeliveryResult(ctx, delivery, models.DeliveryStatusSent, response)
	return models.DeliveryStatusSent
}

func (o *Orchestrator) recordDeliveryResult(ctx context.Context, delivery *models.AlertDelivery, status models.DeliveryStatus, response string) {
	var sentAt *time.Time
	if status == models.DeliveryStatusSent {
		now := time.Now()
		sentAt = &now
	}
	if err := o.store.UpdateDeliveryStatus(ctx, delivery.ID, status, response, sentAt); err != nil {
		o.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("Failed to persist delivery status")
		return
	}
	delivery.Status = status
	o.publish(events.Event{
		Type:       events.EventDeliveryStatus,
		AlertID:    delivery.AlertID,
		DeliveryID: delivery.ID,
		ChannelID:  delivery.ChannelID,
		Status:     string(status),
	})
}

// finalize recomputes the alert status from the delivery set and
// persists it. SentAt is stamped only on full delivery.
func (o *Orchestrator) finalize(ctx context.Context, alert *models.Alert, deliveries []models.AlertDelivery) (*models.Alert, error) {
	status := models.AggregateAlertStatus(deliveries)

	var sentAt *time.Time
	if status == models.AlertStatusDelivered {
		now := time.Now()
		sentAt = &now
	}

	if err := o.store.UpdateAlertStatus(ctx, alert.ID, status, sentAt); err != nil {
		return nil, apperrors.NewStoreError("update alert status", err)
	}

	alert.Status = status
	alert.SentAt = sentAt
	o.publish(events.Event{
		Type:    events.EventAlertStatus,
		AlertID: alert.ID,
		Status:  string(status),
	})
	return alert, nil
}

func (o *Orchestrator) publish(event events.Event) {
	if o.hub != nil {
		o.hub.Publish(event)
	}
}

// extractMessage pulls a human-readable message out of the raw payload,
// falling back to a generic title. Mirrors the msg/message/title/text
// precedence callers rely on.
func extractMessage(payload json.RawMessage) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "Webhook Alert"
	}
	for _, key := range []string{"msg", "message", "title", "text"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return "Webhook Alert"
}
