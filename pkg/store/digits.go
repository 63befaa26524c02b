package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// AddDigitEvent records one capture attempt (accepted or rejected) and
// publishes a redacted event — the raw digits never leave the
// database, matching the models.DigitEvent `json:"-"` contract (§4.4).
func (s *Store) AddDigitEvent(ctx context.Context, e *models.DigitEvent) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO digit_events (id, call_id, source, profile, digits, len,
				accepted, reason, metadata, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.CallID, e.Source, e.Profile, e.Digits, e.Len,
			e.Accepted, e.Reason, metaJSON, e.Ts,
		)
		if err != nil {
			return fmt.Errorf("insert digit event: %w", err)
		}

		_, err = publishEvent(ctx, tx, callTopic(e.CallID), "call.digits", e.CallID, map[string]any{
			"source":   e.Source,
			"profile":  e.Profile,
			"len":      e.Len,
			"accepted": e.Accepted,
			"reason":   e.Reason,
		})
		return err
	})
}

// ListDigitEvents returns a call's digit capture history, oldest first.
func (s *Store) ListDigitEvents(ctx context.Context, callID string) ([]*models.DigitEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, source, profile, digits, len, accepted, reason, metadata, ts
		FROM digit_events WHERE call_id = $1 ORDER BY ts ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DigitEvent
	for rows.Next() {
		var e models.DigitEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.CallID, &e.Source, &e.Profile, &e.Digits, &e.Len,
			&e.Accepted, &e.Reason, &metaJSON, &e.Ts); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
