package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Event is one row of the Event Bus (§4.7): a sequence-numbered,
// replayable fact scoped to a topic (e.g. "call:<id>" or "calls").
type Event struct {
	Topic    string         `json:"topic"`
	Sequence int64          `json:"sequence"`
	Type     string         `json:"type"`
	CallID   string         `json:"call_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// notifyPointer is the payload actually sent over Postgres NOTIFY.
// Postgres caps NOTIFY payloads at 8000 bytes, so listeners are handed
// only a pointer and re-fetch the real row from the events table —
// the same split the teacher's publisher used for large session
// payloads (pkg/events/publisher.go in the pre-transform tree).
type notifyPointer struct {
	Topic    string `json:"topic"`
	Sequence int64  `json:"sequence"`
}

// publishEvent appends one row to the events table and fires a
// lightweight NOTIFY on the "tarsy_events" channel. It must be called
// inside the same transaction that wrote the underlying fact so a
// reader never observes the event before the fact it describes, or
// vice versa.
//
// The per-topic sequence is assigned under a transaction-scoped
// advisory lock keyed on the topic name, so concurrent appends to the
// same topic from different connections still produce a dense,
// strictly increasing sequence without a dedicated counter table.
func publishEvent(ctx context.Context, tx pgx.Tx, topic, eventType, callID string, data map[string]any) (int64, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, topic); err != nil {
		return 0, fmt.Errorf("lock topic sequence: %w", err)
	}

	var seq int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE topic = $1`,
		topic,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("compute next sequence: %w", err)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshal event data: %w", err)
	}

	var callIDArg any
	if callID != "" {
		callIDArg = callID
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO events (topic, sequence, type, call_id, data) VALUES ($1, $2, $3, $4, $5)`,
		topic, seq, eventType, callIDArg, dataJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	ptr, err := json.Marshal(notifyPointer{Topic: topic, Sequence: seq})
	if err != nil {
		return 0, fmt.Errorf("marshal notify pointer: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify('tarsy_events', $1)`, string(ptr)); err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}

	return seq, nil
}

// PublishCallEvent appends a standalone event scoped to callID's topic
// outside of any other write — used for facts the orchestrator raises
// on its own, like an SLO tripwire, rather than alongside a row it is
// already writing.
func (s *Store) PublishCallEvent(ctx context.Context, callID, eventType string, data map[string]any) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := publishEvent(ctx, tx, callTopic(callID), eventType, callID, data)
		return err
	})
}

// EventsSince returns events on topic with sequence > since, oldest
// first, capped at limit rows — the replay path behind `since=N` SSE
// reconnects (§4.7).
func (s *Store) EventsSince(ctx context.Context, topic string, since int64, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT topic, sequence, type, COALESCE(call_id, ''), data
		   FROM events
		  WHERE topic = $1 AND sequence > $2
		  ORDER BY sequence ASC
		  LIMIT $3`,
		topic, since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var dataJSON []byte
		if err := rows.Scan(&e.Topic, &e.Sequence, &e.Type, &e.CallID, &dataJSON); err != nil {
			return nil, err
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest assigned sequence on topic, or 0
// if the topic has no events yet.
func (s *Store) LatestSequence(ctx context.Context, topic string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE topic = $1`, topic,
	).Scan(&seq)
	return seq, err
}
