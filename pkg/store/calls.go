package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// CreateCall inserts the initial row for a new call in models.CallCreated
// state and emits seq-1 of its state-transition log, all in one
// transaction (§4.1, §4.3).
func (s *Store) CreateCall(ctx context.Context, call *models.Call) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO calls (id, phone_number, direction, prompt, first_message,
				owner_subject, provider, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			call.ID, call.PhoneNumber, call.Direction, call.Prompt, call.FirstMessage,
			call.OwnerSubject, call.Provider, call.Status, call.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert call: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO call_state_transitions (call_id, seq, state, data) VALUES ($1, 1, $2, '{}')`,
			call.ID, call.Status,
		); err != nil {
			return fmt.Errorf("insert initial transition: %w", err)
		}

		_, err = publishEvent(ctx, tx, callTopic(call.ID), "call.state", call.ID, map[string]any{
			"state": call.Status,
		})
		if err != nil {
			return err
		}
		_, err = publishEvent(ctx, tx, "calls", "call.created", call.ID, map[string]any{
			"call_id": call.ID,
			"status":  call.Status,
		})
		return err
	})
}

func callTopic(callID string) string { return "call:" + callID }

// CallEventsTopic returns the Event Bus topic name a given call's
// events are published under, for callers (the Control Plane API's
// `GET /calls/{id}/events`) that need to pass it to EventsSince
// directly rather than duplicating the "call:" prefix convention.
func CallEventsTopic(callID string) string { return callTopic(callID) }

// GetCall fetches one call by id. Soft-deleted calls are not returned
// unless includeDeleted is true (used by the cleanup sweep).
func (s *Store) GetCall(ctx context.Context, callID string, includeDeleted bool) (*models.Call, error) {
	q := `SELECT id, phone_number, direction, prompt, first_message, owner_subject,
		provider, provider_call_id, status, failure_reason, carrier_status, created_at, started_at,
		ended_at, duration_ms, ring_ms, answer_delay_ms, summary, analysis,
		digit_summary, digit_count, last_otp, last_otp_masked, error_code,
		answered_by, deleted_at
		FROM calls WHERE id = $1`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}
	row := s.pool.QueryRow(ctx, q, callID)
	call, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return call, err
}

func scanCall(row pgx.Row) (*models.Call, error) {
	var c models.Call
	if err := row.Scan(&c.ID, &c.PhoneNumber, &c.Direction, &c.Prompt, &c.FirstMessage,
		&c.OwnerSubject, &c.Provider, &c.ProviderCallID, &c.Status, &c.FailureReason, &c.CarrierStatus,
		&c.CreatedAt, &c.StartedAt, &c.EndedAt, &c.DurationMs, &c.RingMs, &c.AnswerDelayMs,
		&c.Summary, &c.Analysis, &c.DigitSummary, &c.DigitCount, &c.LastOTP,
		&c.LastOTPMasked, &c.ErrorCode, &c.AnsweredBy, &c.DeletedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCalls returns calls ordered newest-first with opaque
// cursor(created_at,id) pagination, matching the idx_calls_created_status_owner
// covering index (§6).
func (s *Store) ListCalls(ctx context.Context, filter models.ListCallsCursor) ([]*models.Call, string, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var args []any
	q := strings.Builder{}
	q.WriteString(`SELECT id, phone_number, direction, prompt, first_message, owner_subject,
		provider, provider_call_id, status, failure_reason, carrier_status, created_at, started_at,
		ended_at, duration_ms, ring_ms, answer_delay_ms, summary, analysis,
		digit_summary, digit_count, last_otp, last_otp_masked, error_code,
		answered_by, deleted_at
		FROM calls WHERE deleted_at IS NULL`)

	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&q, " AND status = $%d", len(args))
	}
	if filter.Query != "" {
		args = append(args, filter.Query)
		fmt.Fprintf(&q, " AND to_tsvector('english', summary || ' ' || analysis) @@ plainto_tsquery('english', $%d)", len(args))
	}
	if filter.Cursor != "" {
		createdAt, id, err := decodeCallsCursor(filter.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		args = append(args, time.Unix(0, createdAt).UTC(), id)
		fmt.Fprintf(&q, " AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	fmt.Fprintf(&q, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var calls []*models.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, "", err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(calls) > limit {
		last := calls[limit-1]
		nextCursor = encodeCallsCursor(last.CreatedAt.UnixNano(), last.ID)
		calls = calls[:limit]
	}
	return calls, nextCursor, nil
}

func encodeCallsCursor(createdAtNano int64, id string) string {
	return fmt.Sprintf("%d_%s", createdAtNano, id)
}

func decodeCallsCursor(cursor string) (int64, string, error) {
	parts := strings.SplitN(cursor, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed cursor")
	}
	var nano int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nano); err != nil {
		return 0, "", err
	}
	return nano, parts[1], nil
}

// CallTransitionUpdate carries the denormalized call-row fields that
// accompany a state transition (answered timestamp, duration once
// ended, failure reason, etc). Fields left nil are not touched.
type CallTransitionUpdate struct {
	ProviderCallID *string
	Provider       *string
	StartedAt     *time.Time
	EndedAt       *time.Time
	DurationMs    *int64
	RingMs        *int64
	AnswerDelayMs *int64
	CarrierStatus *string
	FailureReason *string
	ErrorCode     *string
	AnsweredBy    *models.AnsweredBy
	DigitSummary  *string
	DigitCount    *int
}

// AppendCallTransition is the atomic heart of the Call Orchestrator
// (§4.3): it locks the call row, enforces the monotonicity guard
// (models.RanksAtOrAfter) and the terminal-state guard, advances the
// status column, appends the next dense transition record, and
// publishes the per-call event (plus a call.ended event on the global
// "calls" topic when the new state is terminal) — all in
// one transaction, so a reader of the event stream never observes a
// status the transition log doesn't also have.
func (s *Store) AppendCallTransition(ctx context.Context, callID string, newState models.CallStatus, data map[string]any, update *CallTransitionUpdate) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var current models.CallStatus
		var deletedAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT status, deleted_at FROM calls WHERE id = $1 FOR UPDATE`, callID,
		).Scan(&current, &deletedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if current.IsTerminal() || !models.RanksAtOrAfter(current, newState) {
			return ErrOutOfOrderTransition
		}

		var nextSeq int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM call_state_transitions WHERE call_id = $1`, callID,
		).Scan(&nextSeq); err != nil {
			return err
		}

		dataJSON, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO call_state_transitions (call_id, seq, state, data) VALUES ($1, $2, $3, $4)`,
			callID, nextSeq, newState, dataJSON,
		); err != nil {
			return err
		}

		if err := applyCallUpdate(ctx, tx, callID, newState, update); err != nil {
			return err
		}

		if _, err := publishEvent(ctx, tx, callTopic(callID), "call.state", callID, map[string]any{
			"state": newState,
			"seq":   nextSeq,
			"data":  data,
		}); err != nil {
			return err
		}
		if newState.IsTerminal() {
			_, err = publishEvent(ctx, tx, "calls", "call.ended", callID, map[string]any{
				"status": newState,
			})
			return err
		}
		return nil
	})
}

func applyCallUpdate(ctx context.Context, tx pgx.Tx, callID string, newState models.CallStatus, u *CallTransitionUpdate) error {
	set := []string{"status = $2"}
	args := []any{callID, newState}

	add := func(col string, val any) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u != nil {
		if u.ProviderCallID != nil {
			add("provider_call_id", *u.ProviderCallID)
		}
		if u.Provider != nil {
			add("provider", *u.Provider)
		}
		if u.StartedAt != nil {
			add("started_at", *u.StartedAt)
		}
		if u.EndedAt != nil {
			add("ended_at", *u.EndedAt)
		}
		if u.DurationMs != nil {
			add("duration_ms", *u.DurationMs)
		}
		if u.RingMs != nil {
			add("ring_ms", *u.RingMs)
		}
		if u.AnswerDelayMs != nil {
			add("answer_delay_ms", *u.AnswerDelayMs)
		}
		if u.CarrierStatus != nil {
			add("carrier_status", *u.CarrierStatus)
		}
		if u.FailureReason != nil {
			add("failure_reason", *u.FailureReason)
		}
		if u.ErrorCode != nil {
			add("error_code", *u.ErrorCode)
		}
		if u.AnsweredBy != nil {
			add("answered_by", *u.AnsweredBy)
		}
		if u.DigitSummary != nil {
			add("digit_summary", *u.DigitSummary)
		}
		if u.DigitCount != nil {
			add("digit_count", *u.DigitCount)
		}
	}

	q := fmt.Sprintf("UPDATE calls SET %s WHERE id = $1", strings.Join(set, ", "))
	_, err := tx.Exec(ctx, q, args...)
	return err
}

// CountActiveCalls returns the number of non-terminal calls, for the
// Call Orchestrator's admission control (§5 "Max concurrent active
// calls is a configured limit; originate requests beyond the limit
// fail with admission_rejected").
func (s *Store) CountActiveCalls(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM calls WHERE deleted_at IS NULL AND status NOT IN ($1, $2)`,
		models.CallEnded, models.CallFailed,
	).Scan(&n)
	return n, err
}

// SetSummaryAnalysis records the post-call LLM summary/analysis text
// (§4.3 call finalization), outside the transition log since it
// carries no state change.
func (s *Store) SetSummaryAnalysis(ctx context.Context, callID, summary, analysis string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET summary = $2, analysis = $3 WHERE id = $1`,
		callID, summary, analysis,
	)
	return err
}

// UpdatePrompt injects a new runtime prompt into an in-progress call
// (§4.9's `POST /calls/{id}/script`), publishing a call-scoped event so
// the Stream Pump/LLM side can pick up the change without polling.
func (s *Store) UpdatePrompt(ctx context.Context, callID, prompt string) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE calls SET prompt = $2 WHERE id = $1 AND deleted_at IS NULL`,
			callID, prompt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = publishEvent(ctx, tx, callTopic(callID), "call.script_updated", callID, map[string]any{
			"prompt": prompt,
		})
		return err
	})
}

// SetLastOTP stores the most recently captured digit buffer, encrypted
// at rest by the caller when compliance_mode=safe (§4.4, §9), alongside
// its masked display form.
func (s *Store) SetLastOTP(ctx context.Context, callID string, encrypted []byte, masked string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET last_otp = $2, last_otp_masked = $3 WHERE id = $1`,
		callID, encrypted, masked,
	)
	return err
}

// SoftDeleteCallsOlderThan marks calls created before cutoff as
// deleted without removing their rows, per the retention policy
// (§4.1's age-based cleanup operation). Returns the number affected.
func (s *Store) SoftDeleteCallsOlderThan(ctx context.Context, cutoffUnixNano int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET deleted_at = now()
		  WHERE deleted_at IS NULL AND created_at < to_timestamp($1 / 1000000000.0)`,
		cutoffUnixNano,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListStaleCalls returns non-deleted calls currently in one of states
// whose created_at (used as a conservative proxy for "time entered the
// current state", since transitions aren't individually timestamped on
// the denormalized row) is older than olderThan. Used by the call
// orchestrator's ring/first-media timeout sweep (§4.3).
func (s *Store) ListStaleCalls(ctx context.Context, states []models.CallStatus, olderThan time.Time, limit int) ([]*models.Call, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT id, phone_number, direction, prompt, first_message, owner_subject,
		provider, provider_call_id, status, failure_reason, carrier_status, created_at, started_at,
		ended_at, duration_ms, ring_ms, answer_delay_ms, summary, analysis,
		digit_summary, digit_count, last_otp, last_otp_masked, error_code,
		answered_by, deleted_at
		FROM calls
		WHERE deleted_at IS NULL AND status = ANY($1) AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, states, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*models.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
