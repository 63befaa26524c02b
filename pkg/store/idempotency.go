package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// CheckIdempotency enforces the (key, request_hash) function invariant
// (§3): a fresh key is reserved and nil is returned; a reused key with
// a matching hash returns the prior record (caller replays its result);
// a reused key with a different hash returns ErrIdempotencyConflict.
func (s *Store) CheckIdempotency(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}

	// Reserve the key atomically: INSERT ... ON CONFLICT DO NOTHING RETURNING
	// only produces a row for whichever concurrent caller actually wins the
	// race. A SELECT-then-INSERT here would let two callers both observe
	// ErrNoRows and both proceed, producing two Message rows for one key.
	var insertedKey string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO idempotency_records (key, request_hash) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
		RETURNING key`,
		key, requestHash,
	).Scan(&insertedKey)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var rec models.IdempotencyRecord
	var messageID, bulkJobID *string
	err = s.pool.QueryRow(ctx, `
		SELECT key, message_id, bulk_job_id, request_hash, created_at
		FROM idempotency_records WHERE key = $1`, key,
	).Scan(&rec.Key, &messageID, &bulkJobID, &rec.RequestHash, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if messageID != nil {
		rec.MessageID = *messageID
	}
	if bulkJobID != nil {
		rec.BulkJobID = *bulkJobID
	}
	if rec.RequestHash != requestHash {
		return &rec, ErrIdempotencyConflict
	}
	return &rec, nil
}

// RecordIdempotencyResult attaches the produced message/bulk job id to
// an already-reserved idempotency key.
func (s *Store) RecordIdempotencyResult(ctx context.Context, key, messageID, bulkJobID string) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_records SET message_id = NULLIF($2, ''), bulk_job_id = NULLIF($3, '')
		WHERE key = $1`,
		key, messageID, bulkJobID,
	)
	return err
}
