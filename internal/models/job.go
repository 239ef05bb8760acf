package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobPriority orders dispatch selection. Higher weight wins; within a
// priority jobs run oldest-due first.
type JobPriority string

const (
	JobPriorityLow      JobPriority = "low"
	JobPriorityMedium   JobPriority = "medium"
	JobPriorityHigh     JobPriority = "high"
	JobPriorityCritical JobPriority = "critical"
)

// Weight returns the numeric dispatch weight of a priority. Unknown
// priorities sort below low so they are still eventually dispatched.
func (p JobPriority) Weight() int {
	switch p {
	case JobPriorityCritical:
		return 4
	case JobPriorityHigh:
		return 3
	case JobPriorityMedium:
		return 2
	case JobPriorityLow:
		return 1
	default:
		return 0
	}
}

func (p JobPriority) Valid() bool {
	switch p {
	case JobPriorityLow, JobPriorityMedium, JobPriorityHigh, JobPriorityCritical:
		return true
	}
	return false
}

type Job struct {
	ID           string          `db:"id" json:"id"`
	Type         string          `db:"type" json:"type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       JobStatus       `db:"status" json:"status"`
	Priority     JobPriority     `db:"priority" json:"priority"`
	Attempts     int             `db:"attempts" json:"attempts"`
	MaxAttempts  int             `db:"max_attempts" json:"maxAttempts"`
	ScheduledAt  time.Time       `db:"scheduled_at" json:"scheduledAt"`
	StartedAt    *time.Time      `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	ErrorMessage string          `db:"error_message" json:"errorMessage,omitempty"`
	Result       json.RawMessage `db:"result" json:"result,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}

// JobStats holds per-status job counts for operator introspection.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Well-known job types. Handlers for these are registered by the
// composition root before the queue starts.
const (
	JobTypeSendEmail       = "sendEmail"
	JobTypeProcessAlert    = "processWebhookAlert"
	JobTypeDeliverChannel  = "deliverAlertChannel"
	JobTypeAnalyticsReport = "generateAnalyticsReport"
	JobTypeCleanupOldData  = "cleanupOldData"
)

// SendEmailPayload is the typed payload for sendEmail jobs.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
}

// ProcessAlertPayload drives a full fan-out pass over an alert's
// pending deliveries.
type ProcessAlertPayload struct {
	AlertID   string `json:"alertId"`
	WebhookID string `json:"webhookId"`
}

// DeliverChannelPayload drives a single alert delivery, giving each
// channel attempt its own retry/backoff lifecycle.
type DeliverChannelPayload struct {
	AlertID    string `json:"alertId"`
	DeliveryID string `json:"deliveryId"`
}

// AnalyticsReportPayload bounds the reporting period.
type AnalyticsReportPayload struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// CleanupPayload configures the data retention sweep.
type CleanupPayload struct {
	OlderThanDays int `json:"olderThanDays,omitempty"`
}
