package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/models"
)

func makeAlert(webhookID string, createdAt time.Time) *models.Alert {
	return &models.Alert{
		ID:        uuid.NewString(),
		WebhookID: webhookID,
		Message:   "BTC crossed 50000",
		RawData:   json.RawMessage(`{"msg":"BTC crossed 50000","ticker":"BTCUSD"}`),
		Status:    models.AlertStatusReceived,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func makeDelivery(alertID, channelID string, createdAt time.Time) models.AlertDelivery {
	return models.AlertDelivery{
		ID:        uuid.NewString(),
		AlertID:   alertID,
		ChannelID: channelID,
		Status:    models.DeliveryStatusPending,
		CreatedAt: createdAt,
	}
}

func TestCreateAlertWithDeliveries(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := makeAlert("wh-1", now)
	deliveries := []models.AlertDelivery{
		makeDelivery(alert.ID, "ch-1", now),
		makeDelivery(alert.ID, "ch-2", now.Add(time.Millisecond)),
	}
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, alert, deliveries))

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, alert.Message, got.Message)
	assert.Equal(t, models.AlertStatusReceived, got.Status)
	assert.JSONEq(t, string(alert.RawData), string(got.RawData))
	assert.Nil(t, got.SentAt)

	stored, err := db.ListDeliveriesByAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "ch-1", stored[0].ChannelID)
	assert.Equal(t, "ch-2", stored[1].ChannelID)
	for _, del := range stored {
		assert.Equal(t, models.DeliveryStatusPending, del.Status)
	}
}

func TestCreateAlertRollsBackOnDuplicateDelivery(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := makeAlert("wh-1", now)
	dup := makeDelivery(alert.ID, "ch-1", now)
	err := db.CreateAlertWithDeliveries(ctx, alert, []models.AlertDelivery{dup, dup})
	require.Error(t, err)

	// The alert row must not survive the failed transaction.
	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetAlertMissingReturnsNil(t *testing.T) {
	db := newTestDatabase(t)

	got, err := db.GetAlert(context.Background(), "no-such-alert")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateAlertStatus(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := makeAlert("wh-1", now)
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, alert, nil))

	sentAt := now.Add(time.Second)
	require.NoError(t, db.UpdateAlertStatus(ctx, alert.ID, models.AlertStatusDelivered, &sentAt))

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusDelivered, got.Status)
	require.NotNil(t, got.SentAt)
	assert.WithinDuration(t, sentAt, *got.SentAt, time.Second)

	require.NoError(t, db.UpdateAlertStatus(ctx, alert.ID, models.AlertStatusProcessing, nil))
	got, err = db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusProcessing, got.Status)
	assert.Nil(t, got.SentAt)
}

func TestListRecentAlerts(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	oldest := makeAlert("wh-1", now.Add(-2*time.Hour))
	middle := makeAlert("wh-1", now.Add(-time.Hour))
	newest := makeAlert("wh-1", now)
	for _, a := range []*models.Alert{oldest, middle, newest} {
		require.NoError(t, db.CreateAlertWithDeliveries(ctx, a, nil))
	}

	alerts, err := db.ListRecentAlerts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, newest.ID, alerts[0].ID)
	assert.Equal(t, middle.ID, alerts[1].ID)
}

func TestUpdateDeliveryStatus(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := makeAlert("wh-1", now)
	del := makeDelivery(alert.ID, "ch-1", now)
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, alert, []models.AlertDelivery{del}))

	sentAt := now.Add(time.Second)
	require.NoError(t, db.UpdateDeliveryStatus(ctx, del.ID, models.DeliveryStatusSent, "Message sent to Telegram chat 42", &sentAt))

	got, err := db.GetDelivery(ctx, del.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.DeliveryStatusSent, got.Status)
	assert.Equal(t, "Message sent to Telegram chat 42", got.Response)
	require.NotNil(t, got.SentAt)

	missing, err := db.GetDelivery(ctx, "no-such-delivery")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeliveryStatistics(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	wh := makeWebhook("stats")
	require.NoError(t, db.CreateWebhook(ctx, wh))
	inactive := makeWebhook("stats-off")
	inactive.IsActive = false
	require.NoError(t, db.CreateWebhook(ctx, inactive))
	require.NoError(t, db.CreateChannel(ctx, makeChannel("c", models.ChannelTelegram)))

	recent := makeAlert(wh.ID, now)
	stale := makeAlert(wh.ID, now.Add(-48*time.Hour))
	sent := makeDelivery(recent.ID, "ch-1", now)
	failed := makeDelivery(recent.ID, "ch-2", now)
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, recent, []models.AlertDelivery{sent, failed}))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, stale, nil))

	sentAt := now
	require.NoError(t, db.UpdateDeliveryStatus(ctx, sent.ID, models.DeliveryStatusSent, "ok", &sentAt))
	require.NoError(t, db.UpdateDeliveryStatus(ctx, failed.ID, models.DeliveryStatusFailed, "timeout", nil))

	stats, err := db.DeliveryStatistics(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalWebhooks)
	assert.Equal(t, 1, stats.ActiveWebhooks)
	assert.Equal(t, 1, stats.TotalChannels)
	assert.Equal(t, 1, stats.ActiveChannels)
	assert.Equal(t, 2, stats.TotalAlerts)
	assert.Equal(t, 1, stats.RecentAlerts)
	assert.Equal(t, 1, stats.SentDeliveries)
	assert.Equal(t, 1, stats.FailedDeliveries)
	assert.Equal(t, 50, stats.SuccessRate)
}

func TestDeliveryStatisticsEmptyDatabase(t *testing.T) {
	db := newTestDatabase(t)

	stats, err := db.DeliveryStatistics(context.Background(), time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalAlerts)
	assert.Equal(t, 100, stats.SuccessRate)
}

func TestCountAlertsAndDeliveriesBetween(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inWindow := makeAlert("wh-1", now.Add(-time.Hour))
	outOfWindow := makeAlert("wh-1", now.Add(-72*time.Hour))
	del := makeDelivery(inWindow.ID, "ch-1", now.Add(-time.Hour))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, inWindow, []models.AlertDelivery{del}))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, outOfWindow, nil))

	sentAt := now.Add(-30 * time.Minute)
	require.NoError(t, db.UpdateDeliveryStatus(ctx, del.ID, models.DeliveryStatusSent, "ok", &sentAt))

	alerts, err := db.CountAlertsBetween(ctx, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, alerts)

	sent, err := db.CountDeliveriesBetween(ctx, models.DeliveryStatusSent, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	failed, err := db.CountDeliveriesBetween(ctx, models.DeliveryStatusFailed, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
}

func TestCreateAnalyticsReport(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	report := &models.AnalyticsReport{
		ID:        uuid.NewString(),
		Period:    "2026-08-01..2026-08-08",
		Data:      json.RawMessage(`{"alertsReceived":12,"successRate":80}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateAnalyticsReport(ctx, report))

	var count int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics_reports WHERE period = ?`, report.Period).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteDeliveredAlertsBefore(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	oldDelivered := makeAlert("wh-1", now.Add(-60*24*time.Hour))
	oldFailed := makeAlert("wh-1", now.Add(-60*24*time.Hour))
	recentDelivered := makeAlert("wh-1", now)
	oldDel := makeDelivery(oldDelivered.ID, "ch-1", now.Add(-60*24*time.Hour))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, oldDelivered, []models.AlertDelivery{oldDel}))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, oldFailed, nil))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, recentDelivered, nil))

	require.NoError(t, db.UpdateAlertStatus(ctx, oldDelivered.ID, models.AlertStatusDelivered, &now))
	require.NoError(t, db.UpdateAlertStatus(ctx, oldFailed.ID, models.AlertStatusFailed, nil))
	require.NoError(t, db.UpdateAlertStatus(ctx, recentDelivered.ID, models.AlertStatusDelivered, &now))

	deleted, err := db.DeleteDeliveredAlertsBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	gone, err := db.GetAlert(ctx, oldDelivered.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	goneDels, err := db.ListDeliveriesByAlert(ctx, oldDelivered.ID)
	require.NoError(t, err)
	assert.Empty(t, goneDels)

	keptFailed, err := db.GetAlert(ctx, oldFailed.ID)
	require.NoError(t, err)
	assert.NotNil(t, keptFailed)

	keptRecent, err := db.GetAlert(ctx, recentDelivered.ID)
	require.NoError(t, err)
	assert.NotNil(t, keptRecent)
}

func TestDeleteFailedDeliveriesBefore(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := makeAlert("wh-1", now)
	oldFailed := makeDelivery(alert.ID, "ch-1", now.Add(-60*24*time.Hour))
	recentFailed := makeDelivery(alert.ID, "ch-2", now)
	oldSent := makeDelivery(alert.ID, "ch-3", now.Add(-60*24*time.Hour))
	require.NoError(t, db.CreateAlertWithDeliveries(ctx, alert, []models.AlertDelivery{oldFailed, recentFailed, oldSent}))

	require.NoError(t, db.UpdateDeliveryStatus(ctx, oldFailed.ID, models.DeliveryStatusFailed, "timeout", nil))
	require.NoError(t, db.UpdateDeliveryStatus(ctx, recentFailed.ID, models.DeliveryStatusFailed, "timeout", nil))
	require.NoError(t, db.UpdateDeliveryStatus(ctx, oldSent.ID, models.DeliveryStatusSent, "ok", &now))

	deleted, err := db.DeleteFailedDeliveriesBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := db.ListDeliveriesByAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
