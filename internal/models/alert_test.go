package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateAlertStatus(t *testing.T) {
	tests := []struct {
		name       string
		deliveries []AlertDelivery
		expected   AlertStatus
	}{
		{
			name:       "no deliveries",
			deliveries: nil,
			expected:   AlertStatusFailed,
		},
		{
			name: "all sent",
			deliveries: []AlertDelivery{
				{Status: DeliveryStatusSent},
				{Status: DeliveryStatusSent},
			},
			expected: AlertStatusDelivered,
		},
		{
			name: "all failed",
			deliveries: []AlertDelivery{
				{Status: DeliveryStatusFailed},
				{Status: DeliveryStatusFailed},
			},
			expected: AlertStatusFailed,
		},
		{
			name: "mixed sent and failed",
			deliveries: []AlertDelivery{
				{Status: DeliveryStatusSent},
				{Status: DeliveryStatusFailed},
			},
			expected: AlertStatusProcessing,
		},
		{
			name: "pending remains in flight",
			deliveries: []AlertDelivery{
				{Status: DeliveryStatusSent},
				{Status: DeliveryStatusPending},
			},
			expected: AlertStatusProcessing,
		},
		{
			name: "all pending",
			deliveries: []AlertDelivery{
				{Status: DeliveryStatusPending},
			},
			expected: AlertStatusProcessing,
		},
		{
			name: "single sent",
			deliveries: []AlertDelivery{
				{Status: DeliveryStatusSent},
			},
			expected: AlertStatusDelivered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateAlertStatus(tt.deliveries))
		})
	}
}

func TestChannelTypeValid(t *testing.T) {
	for _, ct := range []ChannelType{ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelEmail, ChannelTwitter} {
		assert.True(t, ct.Valid(), string(ct))
	}
	assert.False(t, ChannelType("SMS").Valid())
	assert.False(t, ChannelType("").Valid())
}
