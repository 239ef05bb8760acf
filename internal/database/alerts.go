package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hookrelay/internal/models"
)

// CreateAlertWithDeliveries inserts an alert and its complete delivery
// set in one transaction, so concurrent readers see either no deliveries
// or the full final set, never a partially created one.
func (d *Database) CreateAlertWithDeliveries(ctx context.Context, alert *models.Alert, deliveries []models.AlertDelivery) error {
	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO alerts (id, webhook_id, message, raw_data, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, alert.ID, alert.WebhookID, alert.Message, string(alert.RawData), alert.Status, alert.CreatedAt, alert.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}

		for _, del := range deliveries {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO alert_deliveries (id, alert_id, channel_id, status, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, del.ID, del.AlertID, del.ChannelID, del.Status, del.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert delivery: %w", err)
			}
		}

		return tx.Commit()
	}, "create alert")
}

func (d *Database) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	query := `
		SELECT id, webhook_id, message, raw_data, status, sent_at, created_at, updated_at
		FROM alerts
		WHERE id = ?
	`

	alert, err := scanAlert(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

func (d *Database) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus, sentAt *time.Time) error {
	query := `UPDATE alerts SET status = ?, sent_at = ?, updated_at = ? WHERE id = ?`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, status, nullableTime(sentAt), time.Now(), id)
		return err
	}, "update alert status")
}

func (d *Database) ListRecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	query := `
		SELECT id, webhook_id, message, raw_data, status, sent_at, created_at, updated_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

func (d *Database) GetDelivery(ctx context.Context, id string) (*models.AlertDelivery, error) {
	query := `
		SELECT id, alert_id, channel_id, status, response, sent_at, created_at
		FROM alert_deliveries
		WHERE id = ?
	`

	del, err := scanDelivery(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return del, nil
}

func (d *Database) ListDeliveriesByAlert(ctx context.Context, alertID string) ([]models.AlertDelivery, error) {
	query := `
		SELECT id, alert_id, channel_id, status, response, sent_at, created_at
		FROM alert_deliveries
		WHERE alert_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []models.AlertDelivery
	for rows.Next() {
		del, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, *del)
	}
	return deliveries, rows.Err()
}

func (d *Database) UpdateDeliveryStatus(ctx context.Context, id string, status models.DeliveryStatus, response string, sentAt *time.Time) error {
	query := `UPDATE alert_deliveries SET status = ?, response = ?, sent_at = ? WHERE id = ?`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, status, response, nullableTime(sentAt), id)
		return err
	}, "update delivery status")
}

// DeliveryStatistics aggregates counts for the statistics endpoint.
// recentSince bounds the "recent alerts" window.
func (d *Database) DeliveryStatistics(ctx context.Context, recentSince time.Time) (*models.DeliveryStatistics, error) {
	var stats models.DeliveryStatistics

	singles := []struct {
		query string
		dest  *int
		args  []interface{}
	}{
		{`SELECT COUNT(*) FROM webhooks`, &stats.TotalWebhooks, nil},
		{`SELECT COUNT(*) FROM webhooks WHERE is_active = 1`, &stats.ActiveWebhooks, nil},
		{`SELECT COUNT(*) FROM channels`, &stats.TotalChannels, nil},
		{`SELECT COUNT(*) FROM channels WHERE is_active = 1`, &stats.ActiveChannels, nil},
		{`SELECT COUNT(*) FROM alerts`, &stats.TotalAlerts, nil},
		{`SELECT COUNT(*) FROM alerts WHERE created_at >= ?`, &stats.RecentAlerts, []interface{}{recentSince}},
		{`SELECT COUNT(*) FROM alert_deliveries WHERE status = ?`, &stats.SentDeliveries, []interface{}{models.DeliveryStatusSent}},
		{`SELECT COUNT(*) FROM alert_deliveries WHERE status = ?`, &stats.FailedDeliveries, []interface{}{models.DeliveryStatusFailed}},
	}

	for _, s := range singles {
		if err := d.db.QueryRowContext(ctx, s.query, s.args...).Scan(s.dest); err != nil {
			return nil, fmt.Errorf("failed to query statistics: %w", err)
		}
	}

	total := stats.SentDeliveries + stats.FailedDeliveries
	if total > 0 {
		stats.SuccessRate = stats.SentDeliveries * 100 / total
	} else {
		stats.SuccessRate = 100
	}
	return &stats, nil
}

// CountAlertsBetween supports the analytics report job.
func (d *Database) CountAlertsBetween(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE created_at >= ? AND created_at <= ?`,
		start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

func (d *Database) CountDeliveriesBetween(ctx context.Context, status models.DeliveryStatus, start, end time.Time) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alert_deliveries WHERE status = ? AND sent_at >= ? AND sent_at <= ?`,
		status, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

func (d *Database) CreateAnalyticsReport(ctx context.Context, report *models.AnalyticsReport) error {
	query := `INSERT INTO analytics_reports (id, period, data, created_at) VALUES (?, ?, ?, ?)`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, report.ID, report.Period, string(report.Data), report.CreatedAt)
		return err
	}, "create analytics report")
}

// DeleteDeliveredAlertsBefore removes old alerts whose every delivery
// succeeded, together with their delivery rows.
func (d *Database) DeleteDeliveredAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM alert_deliveries WHERE alert_id IN (
			SELECT id FROM alerts WHERE status = ? AND created_at < ?
		)
	`, models.AlertStatusDelivered, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deliveries: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM alerts WHERE status = ? AND created_at < ?`,
		models.AlertStatusDelivered, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alerts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// DeleteFailedDeliveriesBefore removes old failed delivery rows.
func (d *Database) DeleteFailedDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM alert_deliveries WHERE status = ? AND created_at < ?`,
		models.DeliveryStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete failed deliveries: %w", err)
	}
	return res.RowsAffected()
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var rawData string
	var sentAt sql.NullTime

	err := row.Scan(&alert.ID, &alert.WebhookID, &alert.Message, &rawData, &alert.Status, &sentAt, &alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		return nil, err
	}

	alert.RawData = json.RawMessage(rawData)
	if sentAt.Valid {
		alert.SentAt = &sentAt.Time
	}
	return &alert, nil
}

func scanDelivery(row rowScanner) (*models.AlertDelivery, error) {
	var del models.AlertDelivery
	var response sql.NullString
	var sentAt sql.NullTime

	err := row.Scan(&del.ID, &del.AlertID, &del.ChannelID, &del.Status, &response, &sentAt, &del.CreatedAt)
	if err != nil {
		return nil, err
	}

	del.Response = response.String
	if sentAt.Valid {
		del.SentAt = &sentAt.Time
	}
	return &del, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
