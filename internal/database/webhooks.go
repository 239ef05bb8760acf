package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"hookrelay/internal/models"
)

func (d *Database) CreateWebhook(ctx context.Context, wh *models.Webhook) error {
	query := `
		INSERT INTO webhooks (id, name, description, endpoint, secret_key, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			wh.ID, wh.Name, wh.Description, wh.Endpoint, wh.SecretKey, wh.IsActive, wh.CreatedAt, wh.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert webhook: %w", err)
		}
		return nil
	}, "create webhook")
}

// GetWebhookByEndpoint resolves the webhook behind a public endpoint
// slug, or nil when no such webhook exists.
func (d *Database) GetWebhookByEndpoint(ctx context.Context, endpoint string) (*models.Webhook, error) {
	query := `
		SELECT id, name, description, endpoint, secret_key, is_active, created_at, updated_at
		FROM webhooks
		WHERE endpoint = ?
	`

	wh, err := scanWebhook(d.db.QueryRowContext(ctx, query, endpoint))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return wh, nil
}

func (d *Database) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	query := `
		SELECT id, name, description, endpoint, secret_key, is_active, created_at, updated_at
		FROM webhooks
		WHERE id = ?
	`

	wh, err := scanWebhook(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return wh, nil
}

func (d *Database) ListWebhooks(ctx context.Context) ([]models.Webhook, error) {
	query := `
		SELECT id, name, description, endpoint, secret_key, is_active, created_at, updated_at
		FROM webhooks
		ORDER BY updated_at DESC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, *wh)
	}
	return webhooks, rows.Err()
}

func (d *Database) SetWebhookActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE webhooks SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, active, id)
		return err
	}, "set webhook active")
}

// CreateChannel stores a channel; the config blob is encrypted at rest
// when encryption is enabled.
func (d *Database) CreateChannel(ctx context.Context, ch *models.Channel) error {
	config, err := d.encryptor.Encrypt(string(ch.Config))
	if err != nil {
		return fmt.Errorf("failed to encrypt channel config: %w", err)
	}

	query := `
		INSERT INTO channels (id, name, type, config, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, ch.ID, ch.Name, ch.Type, config, ch.IsActive, ch.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert channel: %w", err)
		}
		return nil
	}, "create channel")
}

func (d *Database) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	query := `
		SELECT id, name, type, config, is_active, created_at
		FROM channels
		WHERE id = ?
	`

	ch, err := d.scanChannel(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return ch, nil
}

func (d *Database) ListChannels(ctx context.Context) ([]models.Channel, error) {
	query := `
		SELECT id, name, type, config, is_active, created_at
		FROM channels
		ORDER BY created_at DESC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := d.scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// AttachChannel associates a channel with a webhook.
func (d *Database) AttachChannel(ctx context.Context, wc *models.WebhookChannel) error {
	query := `
		INSERT INTO webhook_channels (webhook_id, channel_id, is_active, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(ctx, query, wc.WebhookID, wc.ChannelID, wc.IsActive, wc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to attach channel: %w", err)
	}
	return nil
}

func (d *Database) DetachChannel(ctx context.Context, webhookID, channelID string) error {
	query := `DELETE FROM webhook_channels WHERE webhook_id = ? AND channel_id = ?`

	_, err := d.db.ExecContext(ctx, query, webhookID, channelID)
	if err != nil {
		return fmt.Errorf("failed to detach channel: %w", err)
	}
	return nil
}

// ListWebhookChannels returns a webhook's channel associations with the
// channel embedded.
func (d *Database) ListWebhookChannels(ctx context.Context, webhookID string) ([]models.WebhookChannel, error) {
	query := `
		SELECT wc.webhook_id, wc.channel_id, wc.is_active, wc.created_at,
		       c.id, c.name, c.type, c.config, c.is_active, c.created_at
		FROM webhook_channels wc
		JOIN channels c ON c.id = wc.channel_id
		WHERE wc.webhook_id = ?
		ORDER BY wc.created_at ASC
	`

	rows, err := d.db.QueryContext(ctx, query, webhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook channels: %w", err)
	}
	defer rows.Close()

	var assocs []models.WebhookChannel
	for rows.Next() {
		var wc models.WebhookChannel
		var ch models.Channel
		var config string
		if err := rows.Scan(
			&wc.WebhookID, &wc.ChannelID, &wc.IsActive, &wc.CreatedAt,
			&ch.ID, &ch.Name, &ch.Type, &config, &ch.IsActive, &ch.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook channel: %w", err)
		}

		decrypted, err := d.encryptor.Decrypt(config)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt channel config: %w", err)
		}
		ch.Config = json.RawMessage(decrypted)

		wc.Channel = &ch
		assocs = append(assocs, wc)
	}
	return assocs, rows.Err()
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var wh models.Webhook
	var description sql.NullString

	err := row.Scan(&wh.ID, &wh.Name, &description, &wh.Endpoint, &wh.SecretKey, &wh.IsActive, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wh.Description = description.String
	return &wh, nil
}

func (d *Database) scanChannel(row rowScanner) (*models.Channel, error) {
	var ch models.Channel
	var config string

	err := row.Scan(&ch.ID, &ch.Name, &ch.Type, &config, &ch.IsActive, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}

	decrypted, err := d.encryptor.Decrypt(config)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt channel config: %w", err)
	}
	ch.Config = json.RawMessage(decrypted)
	return &ch, nil
}
