package models

import (
	"encoding/json"
	"time"
)

type AlertStatus string

const (
	AlertStatusReceived   AlertStatus = "RECEIVED"
	AlertStatusProcessing AlertStatus = "PROCESSING"
	AlertStatusDelivered  AlertStatus = "DELIVERED"
	AlertStatusFailed     AlertStatus = "FAILED"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

type ChannelType string

const (
	ChannelTelegram ChannelType = "TELEGRAM"
	ChannelDiscord  ChannelType = "DISCORD"
	ChannelSlack    ChannelType = "SLACK"
	ChannelEmail    ChannelType = "EMAIL"
	ChannelTwitter  ChannelType = "TWITTER"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelEmail, ChannelTwitter:
		return true
	}
	return false
}

// Webhook is an inbound alert endpoint. SecretKey authenticates callers,
// Endpoint is the public path slug.
type Webhook struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Endpoint    string    `db:"endpoint" json:"endpoint"`
	SecretKey   string    `db:"secret_key" json:"secretKey,omitempty"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Channel is a configured notification destination. Config carries the
// channel-type-specific settings (bot token, webhook URL, addresses) as
// JSON; it is encrypted at rest when encryption is enabled.
type Channel struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Type      ChannelType     `db:"type" json:"type"`
	Config    json.RawMessage `db:"config" json:"config,omitempty"`
	IsActive  bool            `db:"is_active" json:"isActive"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// WebhookChannel associates a channel with a webhook. Associations
// inactive at alert ingest time are skipped and never gain a delivery
// row later, even if reactivated.
type WebhookChannel struct {
	WebhookID string    `db:"webhook_id" json:"webhookId"`
	ChannelID string    `db:"channel_id" json:"channelId"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	Channel *Channel `db:"-" json:"channel,omitempty"`
}

// Alert is one inbound webhook call. Message and RawData are immutable
// after creation; Status is derived from the delivery set.
type Alert struct {
	ID        string          `db:"id" json:"id"`
	WebhookID string          `db:"webhook_id" json:"webhookId"`
	Message   string          `db:"message" json:"message"`
	RawData   json.RawMessage `db:"raw_data" json:"rawData"`
	Status    AlertStatus     `db:"status" json:"status"`
	SentAt    *time.Time      `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// AlertDelivery records one channel's send outcome for an alert. Rows
// are created as a complete set at ingest time; a retry transitions the
// same row, it never creates a new one.
type AlertDelivery struct {
	ID        string         `db:"id" json:"id"`
	AlertID   string         `db:"alert_id" json:"alertId"`
	ChannelID string         `db:"channel_id" json:"channelId"`
	Status    DeliveryStatus `db:"status" json:"status"`
	Response  string         `db:"response" json:"response,omitempty"`
	SentAt    *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
}

// AggregateAlertStatus derives the alert-level status from its delivery
// set: DELIVERED when every delivery is SENT, FAILED when every delivery
// is FAILED (or there are none), PROCESSING for a mixed outcome.
func AggregateAlertStatus(deliveries []AlertDelivery) AlertStatus {
	if len(deliveries) == 0 {
		return AlertStatusFailed
	}
	sent, failed := 0, 0
	for _, d := range deliveries {
		switch d.Status {
		case DeliveryStatusSent:
			sent++
		case DeliveryStatusFailed:
			failed++
		}
	}
	switch {
	case sent == len(deliveries):
		return AlertStatusDelivered
	case failed == len(deliveries):
		return AlertStatusFailed
	default:
		return AlertStatusProcessing
	}
}

// DeliveryStatistics summarizes delivery outcomes for dashboards.
type DeliveryStatistics struct {
	TotalWebhooks    int `json:"totalWebhooks"`
	ActiveWebhooks   int `json:"activeWebhooks"`
	TotalChannels    int `json:"totalChannels"`
	ActiveChannels   int `json:"activeChannels"`
	TotalAlerts      int `json:"totalAlerts"`
	RecentAlerts     int `json:"recentAlerts"`
	SentDeliveries   int `json:"sentDeliveries"`
	FailedDeliveries int `json:"failedDeliveries"`
	SuccessRate      int `json:"successRate"`
}

// AnalyticsReport is a stored summary of delivery activity over a period.
type AnalyticsReport struct {
	ID        string          `db:"id" json:"id"`
	Period    string          `db:"period" json:"period"`
	Data      json.RawMessage `db:"data" json:"data"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}
