package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// GetSuppression looks up whether (address, channel) is suppressed
// (§4.8, checked at both enqueue and send time).
func (s *Store) GetSuppression(ctx context.Context, address string, channel models.MessageChannel) (*models.Suppression, error) {
	var sup models.Suppression
	err := s.pool.QueryRow(ctx, `
		SELECT address, channel, reason, source, updated_at
		FROM suppressions WHERE address = $1 AND channel = $2`,
		address, channel,
	).Scan(&sup.Address, &sup.Channel, &sup.Reason, &sup.Source, &sup.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sup, nil
}

// SetSuppression inserts or refreshes a suppression entry, e.g. when a
// bounce or complaint provider event arrives, and emits
// suppression.added in the same transaction.
func (s *Store) SetSuppression(ctx context.Context, sup *models.Suppression) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO suppressions (address, channel, reason, source, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (address, channel) DO UPDATE SET
				reason = EXCLUDED.reason, source = EXCLUDED.source, updated_at = now()`,
			sup.Address, sup.Channel, sup.Reason, sup.Source,
		)
		if err != nil {
			return err
		}
		_, err = publishEvent(ctx, tx, messagesTopic, "suppression.added", "", map[string]any{
			"address": sup.Address,
			"channel": sup.Channel,
			"reason":  sup.Reason,
		})
		return err
	})
}

// ClearSuppression removes a manually-cleared suppression entry.
func (s *Store) ClearSuppression(ctx context.Context, address string, channel models.MessageChannel) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM suppressions WHERE address = $1 AND channel = $2`, address, channel)
	return err
}
