package store

import (
	"context"
	"time"
)

// CleanupResult reports how many rows each retention sweep removed,
// for the cleanup service's log line (§4.1's age-based cleanup op,
// adapted from the teacher's pkg/cleanup).
type CleanupResult struct {
	CallsSoftDeleted      int64
	DigitEventsDeleted    int64
	NotificationsDeleted  int64
	EventsDeleted         int64
	ProviderHealthDeleted int64
}

// PurgeExpired deletes rows that have aged past their respective
// retention windows. Calls are soft-deleted (SoftDeleteCallsOlderThan);
// everything else is hard-deleted since it carries no independent
// audit requirement once its owning call is gone.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time, callRetention, digitEventTTL, notificationTTL, providerHealthTTL, eventTTL time.Duration) (*CleanupResult, error) {
	var res CleanupResult

	calls, err := s.SoftDeleteCallsOlderThan(ctx, now.Add(-callRetention).UnixNano())
	if err != nil {
		return nil, err
	}
	res.CallsSoftDeleted = calls

	if tag, err := s.pool.Exec(ctx,
		`DELETE FROM digit_events WHERE ts < $1`, now.Add(-digitEventTTL)); err != nil {
		return nil, err
	} else {
		res.DigitEventsDeleted = tag.RowsAffected()
	}

	if tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_notifications WHERE created_at < $1 AND status IN ('sent', 'failed')`,
		now.Add(-notificationTTL)); err != nil {
		return nil, err
	} else {
		res.NotificationsDeleted = tag.RowsAffected()
	}

	if tag, err := s.pool.Exec(ctx,
		`DELETE FROM provider_health WHERE recorded_at < $1`, now.Add(-providerHealthTTL)); err != nil {
		return nil, err
	} else {
		res.ProviderHealthDeleted = tag.RowsAffected()
	}

	if tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE ts < $1`, now.Add(-eventTTL)); err != nil {
		return nil, err
	} else {
		res.EventsDeleted = tag.RowsAffected()
	}

	return &res, nil
}
