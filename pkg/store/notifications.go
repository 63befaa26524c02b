package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// UpsertNotification inserts or updates a fan-out delivery attempt.
// Called both when a new notification is created (status=pending) and
// when the Notification Fan-out worker (§4.6) advances its status.
func (s *Store) UpsertNotification(ctx context.Context, n *models.Notification) error {
	payloadJSON, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_notifications (id, call_id, kind, subscriber_id,
			delivery_channel, priority, status, retry_count, created_at, sent_at,
			delivery_ms, provider_message_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			sent_at = EXCLUDED.sent_at,
			delivery_ms = EXCLUDED.delivery_ms,
			provider_message_id = EXCLUDED.provider_message_id`,
		n.ID, n.CallID, n.Kind, n.SubscriberID, n.DeliveryChannel, n.Priority,
		n.Status, n.RetryCount, n.CreatedAt, n.SentAt, n.DeliveryMs,
		n.ProviderMessageID, payloadJSON,
	)
	return err
}

// ClaimPendingNotifications selects up to limit pending/retrying
// notifications, ordered urgent-first then by kind severity then FIFO
// (§4.1, via models.PriorityRank/KindSeverity encoded as a CASE
// expression), and marks them sending so a second concurrent worker
// does not also pick them up.
func (s *Store) ClaimPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, call_id, kind, subscriber_id, delivery_channel, priority,
				status, retry_count, created_at, sent_at, delivery_ms,
				provider_message_id, payload
			FROM webhook_notifications
			WHERE status IN ('pending', 'retrying')
			ORDER BY
				CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
				CASE kind WHEN 'call_failed' THEN 0 WHEN 'call_slo_violation' THEN 1 WHEN 'call_completed' THEN 2 WHEN 'call_transcript' THEN 3 ELSE 4 END,
				created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return err
		}

		var ids []string
		for rows.Next() {
			var n models.Notification
			var payloadJSON []byte
			if err := rows.Scan(&n.ID, &n.CallID, &n.Kind, &n.SubscriberID, &n.DeliveryChannel,
				&n.Priority, &n.Status, &n.RetryCount, &n.CreatedAt, &n.SentAt, &n.DeliveryMs,
				&n.ProviderMessageID, &payloadJSON); err != nil {
				rows.Close()
				return err
			}
			if len(payloadJSON) > 0 {
				if err := json.Unmarshal(payloadJSON, &n.Payload); err != nil {
					rows.Close()
					return err
				}
			}
			n.Status = models.NotificationSending
			out = append(out, &n)
			ids = append(ids, n.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `UPDATE webhook_notifications SET status = 'sending' WHERE id = ANY($1)`, ids)
		return err
	})
	return out, err
}

// CountPendingNotifications returns the number of notifications
// awaiting fan-out delivery, for the health endpoint's queue depth
// reporting (§4.9).
func (s *Store) CountPendingNotifications(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_notifications WHERE status IN ('pending', 'retrying')`,
	).Scan(&n)
	return n, err
}

// GetNotification fetches one notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	var payloadJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, call_id, kind, subscriber_id, delivery_channel, priority,
			status, retry_count, created_at, sent_at, delivery_ms,
			provider_message_id, payload
		FROM webhook_notifications WHERE id = $1`, id,
	).Scan(&n.ID, &n.CallID, &n.Kind, &n.SubscriberID, &n.DeliveryChannel, &n.Priority,
		&n.Status, &n.RetryCount, &n.CreatedAt, &n.SentAt, &n.DeliveryMs,
		&n.ProviderMessageID, &payloadJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &n.Payload); err != nil {
			return nil, err
		}
	}
	return &n, nil
}
