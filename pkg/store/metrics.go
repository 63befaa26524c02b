package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IncrementMetricCounter bumps today's (kind, outcome) counter, backing
// the Control Plane's daily rollup endpoints. Grounded on the metric
// rollup table pattern the teacher uses for session run counts.
func (s *Store) IncrementMetricCounter(ctx context.Context, kind, outcome string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO metric_counters (metric_date, kind, outcome, count)
		VALUES (current_date, $1, $2, 1)
		ON CONFLICT (metric_date, kind, outcome) DO UPDATE SET count = metric_counters.count + 1`,
		kind, outcome,
	)
	return err
}

// GetMetricCounterToday reads today's (kind, outcome) count, used by
// the email warmup cap check (§4.8 "daily cap across all sent").
func (s *Store) GetMetricCounterToday(ctx context.Context, kind, outcome string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count FROM metric_counters
		WHERE metric_date = current_date AND kind = $1 AND outcome = $2`,
		kind, outcome,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// MetricCounter is one daily rollup row.
type MetricCounter struct {
	Kind    string
	Outcome string
	Count   int64
}

// MetricCountersSince sums counters across the last N days by
// (kind, outcome).
func (s *Store) MetricCountersSince(ctx context.Context, days int) ([]MetricCounter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, outcome, sum(count)
		FROM metric_counters
		WHERE metric_date >= current_date - $1::int
		GROUP BY kind, outcome
		ORDER BY kind, outcome`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricCounter
	for rows.Next() {
		var c MetricCounter
		if err := rows.Scan(&c.Kind, &c.Outcome, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
