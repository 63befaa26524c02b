package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// messagesTopic is the Event Bus topic carrying message lifecycle
// events, mirroring the "calls" topic's role for call lifecycle events.
const messagesTopic = "messages"

// CreateMessage inserts a queued SMS/Email send and emits its
// message.created event in the same transaction (§4.8). Idempotency is
// enforced by the caller via Store.CheckIdempotency before this is
// reached.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	varsJSON, err := json.Marshal(m.Variables)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO email_messages (message_id, channel, to_addr, from_addr, body,
				subject, html, text, template_id, variables, status, retry_count,
				next_attempt_at, scheduled_at, bulk_job_id, tenant_id, idempotency_key,
				created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			m.MessageID, m.Channel, m.To, m.From, m.Body, m.Subject, m.HTML, m.Text,
			m.TemplateID, varsJSON, m.Status, m.RetryCount, m.NextAttemptAt, m.ScheduledAt,
			nullableString(m.BulkJobID), m.TenantID, nullableString(m.IdempotencyKey), m.CreatedAt,
		)
		if err != nil {
			return err
		}
		_, err = publishEvent(ctx, tx, messagesTopic, "message.created", "", map[string]any{
			"message_id": m.MessageID,
			"channel":    m.Channel,
			"status":     m.Status,
		})
		return err
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT message_id, channel, to_addr, from_addr, body, subject, html, text,
			template_id, variables, status, retry_count, next_attempt_at,
			scheduled_at, COALESCE(bulk_job_id, ''), tenant_id,
			COALESCE(idempotency_key, ''), provider_message_id, created_at
		FROM email_messages WHERE message_id = $1`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var varsJSON []byte
	if err := row.Scan(&m.MessageID, &m.Channel, &m.To, &m.From, &m.Body, &m.Subject,
		&m.HTML, &m.Text, &m.TemplateID, &varsJSON, &m.Status, &m.RetryCount,
		&m.NextAttemptAt, &m.ScheduledAt, &m.BulkJobID, &m.TenantID,
		&m.IdempotencyKey, &m.ProviderMsgID, &m.CreatedAt); err != nil {
		return nil, err
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &m.Variables); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// ClaimSendableMessages selects up to limit messages that are due for
// a send attempt (queued, or retry whose next_attempt_at has passed)
// and marks them sending, skipping rows a concurrent worker already
// holds (§4.8 worker loop).
func (s *Store) ClaimSendableMessages(ctx context.Context, channel models.MessageChannel, limit int) ([]*models.Message, error) {
	var out []*models.Message
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT message_id, channel, to_addr, from_addr, body, subject, html, text,
				template_id, variables, status, retry_count, next_attempt_at,
				scheduled_at, COALESCE(bulk_job_id, ''), tenant_id,
				COALESCE(idempotency_key, ''), provider_message_id, created_at
			FROM email_messages
			WHERE channel = $1
			  AND (status = 'queued' OR (status = 'retry' AND next_attempt_at <= now()))
			  AND (scheduled_at IS NULL OR scheduled_at <= now())
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, channel, limit)
		if err != nil {
			return err
		}

		var ids []string
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, m)
			ids = append(ids, m.MessageID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE email_messages SET status = 'sending' WHERE message_id = ANY($1)`, ids)
		return err
	})
	return out, err
}

// UpdateMessageStatus advances a message's delivery lifecycle and
// emits a message.status event in the same transaction (§4.8
// reconciliation). Terminal statuses are final except that provider
// events may still be appended by UpdateMessageStatus itself after the
// fact (delivered/bounced/complained arriving post-sent).
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID string, status models.MessageStatus, retryCount int, providerMsgID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE email_messages
			   SET status = $2, retry_count = $3, provider_message_id = COALESCE(NULLIF($4, ''), provider_message_id)
			 WHERE message_id = $1`,
			messageID, status, retryCount, providerMsgID,
		)
		if err != nil {
			return err
		}
		_, err = publishEvent(ctx, tx, messagesTopic, "message.status", "", map[string]any{
			"message_id":  messageID,
			"status":      status,
			"retry_count": retryCount,
		})
		return err
	})
}

// CountMessagesByStatus returns the number of SMS/Email messages
// currently in status, for the health endpoint's delivery queue depth
// (§4.9's "worker pool health").
func (s *Store) CountMessagesByStatus(ctx context.Context, status models.MessageStatus) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_messages WHERE status = $1`, status,
	).Scan(&n)
	return n, err
}

// SetMessageNextAttempt schedules the next retry attempt for a message
// transitioning to models.MessageRetry and emits a message.status
// event reflecting the reschedule.
func (s *Store) SetMessageNextAttempt(ctx context.Context, messageID string, retryCount int, nextAttemptAt any) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE email_messages
			   SET status = 'retry', retry_count = $2, next_attempt_at = $3
			 WHERE message_id = $1`,
			messageID, retryCount, nextAttemptAt,
		)
		if err != nil {
			return err
		}
		_, err = publishEvent(ctx, tx, messagesTopic, "message.status", "", map[string]any{
			"message_id":  messageID,
			"status":      models.MessageRetry,
			"retry_count": retryCount,
		})
		return err
	})
}
