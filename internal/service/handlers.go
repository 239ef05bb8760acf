package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "hookrelay/internal/errors"
	"hookrelay/internal/models"
	"hookrelay/internal/queue"
	"hookrelay/pkg/notify"
)

// ReportStore covers the analytics and retention queries used by the
// maintenance job types.
type ReportStore interface {
	CountAlertsBetween(ctx context.Context, start, end time.Time) (int, error)
	CountDeliveriesBetween(ctx context.Context, status models.DeliveryStatus, start, end time.Time) (int, error)
	CreateAnalyticsReport(ctx context.Context, report *models.AnalyticsReport) error
	DeleteDeliveredAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteFailedDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobHandlers bundles the built-in job type implementations and their
// dependencies. Register installs them on a queue with the per-type
// attempt budgets and retry delays they ship with.
type JobHandlers struct {
	orchestrator *Orchestrator
	queue        *queue.Queue
	reports      ReportStore
	email        notify.Sender
	emailBase    notify.EmailConfig
	logger       *logrus.Logger
}

func NewJobHandlers(orchestrator *Orchestrator, q *queue.Queue, reports ReportStore, email notify.Sender, emailBase notify.EmailConfig, logger *logrus.Logger) *JobHandlers {
	return &JobHandlers{
		orchestrator: orchestrator,
		queue:        q,
		reports:      reports,
		email:        email,
		emailBase:    emailBase,
		logger:       logger,
	}
}

// Register installs all built-in handlers on the queue.
func (h *JobHandlers) Register() {
	h.queue.RegisterHandler(queue.Handler{
		Type:        models.JobTypeSendEmail,
		Handle:      h.handleSendEmail,
		MaxAttempts: 3,
		RetryDelay:  time.Minute,
	})
	h.queue.RegisterHandler(queue.Handler{
		Type:        models.JobTypeProcessAlert,
		Handle:      h.handleProcessAlert,
		MaxAttempts: 5,
		RetryDelay:  30 * time.Second,
	})
	h.queue.RegisterHandler(queue.Handler{
		Type:        models.JobTypeDeliverChannel,
		Handle:      h.handleDeliverChannel,
		MaxAttempts: 5,
	})
	h.queue.RegisterHandler(queue.Handler{
		Type:        models.JobTypeAnalyticsReport,
		Handle:      h.handleAnalyticsReport,
		MaxAttempts: 2,
		RetryDelay:  time.Minute,
	})
	h.queue.RegisterHandler(queue.Handler{
		Type:        models.JobTypeCleanupOldData,
		Handle:      h.handleCleanup,
		MaxAttempts: 1,
	})
}

func (h *JobHandlers) handleSendEmail(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.SendEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperrors.NewInvalidPayloadError(job.ID, err)
	}
	if payload.To == "" || payload.Subject == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, "email payload requires to and subject")
	}

	config := h.emailBase
	config.To = payload.To
	config.Subject = payload.Subject
	if payload.From != "" {
		config.From = payload.From
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode email config")
	}

	response, err := h.email.Send(ctx, raw, payload.Body)
	if err != nil {
		return nil, err
	}
	return map[string]string{"response": response}, nil
}

func (h *JobHandlers) handleProcessAlert(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.ProcessAlertPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperrors.NewInvalidPayloadError(job.ID, err)
	}
	if payload.AlertID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, "alert id is required")
	}

	alert, err := h.orchestrator.Process(ctx, payload.AlertID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"alertId": alert.ID, "status": string(alert.Status)}, nil
}

func (h *JobHandlers) handleDeliverChannel(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.DeliverChannelPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperrors.NewInvalidPayloadError(job.ID, err)
	}
	if payload.AlertID == "" || payload.DeliveryID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidPayload, "alert id and delivery id are required")
	}

	if err := h.orchestrator.DeliverOne(ctx, payload.AlertID, payload.DeliveryID); err != nil {
		return nil, err
	}
	return map[string]string{"deliveryId": payload.DeliveryID}, nil
}

func (h *JobHandlers) handleAnalyticsReport(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.AnalyticsReportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperrors.NewInvalidPayloadError(job.ID, err)
	}
	if payload.EndDate.IsZero() {
		payload.EndDate = time.Now()
	}
	if payload.StartDate.IsZero() {
		payload.StartDate = payload.EndDate.AddDate(0, 0, -7)
	}

	totalAlerts, err := h.reports.CountAlertsBetween(ctx, payload.StartDate, payload.EndDate)
	if err != nil {
		return nil, apperrors.NewStoreError("count alerts", err)
	}
	sent, err := h.reports.CountDeliveriesBetween(ctx, models.DeliveryStatusSent, payload.StartDate, payload.EndDate)
	if err != nil {
		return nil, apperrors.NewStoreError("count sent deliveries", err)
	}
	failed, err := h.reports.CountDeliveriesBetween(ctx, models.DeliveryStatusFailed, payload.StartDate, payload.EndDate)
	if err != nil {
		return nil, apperrors.NewStoreError("count failed deliveries", err)
	}

	successRate := 0
	if sent+failed > 0 {
		successRate = sent * 100 / (sent + failed)
	}

	data, err := json.Marshal(map[string]interface{}{
		"startDate":        payload.StartDate,
		"endDate":          payload.EndDate,
		"totalAlerts":      totalAlerts,
		"sentDeliveries":   sent,
		"failedDeliveries": failed,
		"successRate":      successRate,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode report")
	}

	report := &models.AnalyticsReport{
		ID:        uuid.NewString(),
		Period:    payload.StartDate.Format("2006-01-02") + ".." + payload.EndDate.Format("2006-01-02"),
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := h.reports.CreateAnalyticsReport(ctx, report); err != nil {
		return nil, apperrors.NewStoreError("store report", err)
	}

	h.logger.WithField("report_id", report.ID).Info("Analytics report generated")
	return map[string]string{"reportId": report.ID}, nil
}

func (h *JobHandlers) handleCleanup(ctx context.Context, job *models.Job) (interface{}, error) {
	var payload models.CleanupPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, apperrors.NewInvalidPayloadError(job.ID, err)
		}
	}
	days := payload.OlderThanDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	jobsDeleted, err := h.queue.Cleanup(ctx, days)
	if err != nil {
		return nil, err
	}
	alertsDeleted, err := h.reports.DeleteDeliveredAlertsBefore(ctx, cutoff)
	if err != nil {
		return nil, apperrors.NewStoreError("delete old alerts", err)
	}
	deliveriesDeleted, err := h.reports.DeleteFailedDeliveriesBefore(ctx, cutoff)
	if err != nil {
		return nil, apperrors.NewStoreError("delete old deliveries", err)
	}

	h.logger.WithFields(logrus.Fields{
		"jobs":       jobsDeleted,
		"alerts":     alertsDeleted,
		"deliveries": deliveriesDeleted,
	}).Info("Old data cleaned up")

	return map[string]int64{
		"jobsDeleted":       jobsDeleted,
		"alertsDeleted":     alertsDeleted,
		"deliveriesDeleted": deliveriesDeleted,
	}, nil
}

// QueueEnqueuer adapts the job queue to the JobEnqueuer interface used
// by the orchestrator.
type QueueEnqueuer struct {
	Queue *queue.Queue
}

func (e QueueEnqueuer) Enqueue(ctx context.Context, jobType string, payload interface{}, priority models.JobPriority) (string, error) {
	return e.Queue.AddJob(ctx, jobType, payload, queue.AddOptions{Priority: priority})
}
