package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// AddTranscript appends one conversation line and publishes it on the
// call's event topic for SSE subscribers (§3, §4.5, §4.7).
func (s *Store) AddTranscript(ctx context.Context, t *models.Transcript) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var nextSeq int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM transcripts WHERE call_id = $1`, t.CallID,
		).Scan(&nextSeq); err != nil {
			return err
		}
		t.Seq = nextSeq

		_, err := tx.Exec(ctx, `
			INSERT INTO transcripts (call_id, seq, speaker, message, interaction_count,
				personality, confidence, final)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.CallID, t.Seq, t.Speaker, t.Message, t.InteractionCount,
			t.Personality, t.Confidence, t.Final,
		)
		if err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}

		_, err = publishEvent(ctx, tx, callTopic(t.CallID), "call.transcript", t.CallID, map[string]any{
			"seq":     t.Seq,
			"speaker": t.Speaker,
			"message": t.Message,
			"final":   t.Final,
		})
		return err
	})
}

// ListTranscripts returns a call's transcript in seq order.
func (s *Store) ListTranscripts(ctx context.Context, callID string) ([]*models.Transcript, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT call_id, seq, speaker, message, interaction_count, personality,
			confidence, final, ts
		FROM transcripts WHERE call_id = $1 ORDER BY seq ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transcript
	for rows.Next() {
		var t models.Transcript
		if err := rows.Scan(&t.CallID, &t.Seq, &t.Speaker, &t.Message, &t.InteractionCount,
			&t.Personality, &t.Confidence, &t.Final, &t.Ts); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
