package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// GetProviderHealth reads a provider's persisted health snapshot. The
// Provider Adapter Registry (§4.2) keeps the live sliding window in
// memory and only persists periodically, so this is a last-known-state
// read used at process start and by the Control Plane health endpoint.
func (s *Store) GetProviderHealth(ctx context.Context, provider string) (*models.ProviderHealth, error) {
	var h models.ProviderHealth
	err := s.pool.QueryRow(ctx, `
		SELECT provider_name, error_count_window, last_error_at, last_success_at,
			cooldown_until, degraded
		FROM provider_health WHERE provider_name = $1`, provider,
	).Scan(&h.ProviderName, &h.ErrorCountWindow, &h.LastErrorAt, &h.LastSuccessAt,
		&h.CooldownUntil, &h.Degraded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// UpsertProviderHealth persists a provider's current health snapshot.
func (s *Store) UpsertProviderHealth(ctx context.Context, h *models.ProviderHealth) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_health (provider_name, error_count_window, last_error_at,
			last_success_at, cooldown_until, degraded, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (provider_name) DO UPDATE SET
			error_count_window = EXCLUDED.error_count_window,
			last_error_at = EXCLUDED.last_error_at,
			last_success_at = EXCLUDED.last_success_at,
			cooldown_until = EXCLUDED.cooldown_until,
			degraded = EXCLUDED.degraded,
			recorded_at = now()`,
		h.ProviderName, h.ErrorCountWindow, h.LastErrorAt, h.LastSuccessAt,
		h.CooldownUntil, h.Degraded,
	)
	return err
}

// AllProviderHealth returns the persisted snapshot for every known
// provider, used to seed the in-memory health tracker at startup.
func (s *Store) AllProviderHealth(ctx context.Context) ([]*models.ProviderHealth, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider_name, error_count_window, last_error_at, last_success_at,
			cooldown_until, degraded
		FROM provider_health`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ProviderHealth
	for rows.Next() {
		var h models.ProviderHealth
		if err := rows.Scan(&h.ProviderName, &h.ErrorCountWindow, &h.LastErrorAt,
			&h.LastSuccessAt, &h.CooldownUntil, &h.Degraded); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
