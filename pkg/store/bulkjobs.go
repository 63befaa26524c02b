package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// CreateBulkJob inserts the aggregate tracking row for a bulk send
// (§4.8 bulk jobs).
func (s *Store) CreateBulkJob(ctx context.Context, job *models.BulkJob) error {
	totalsJSON, err := json.Marshal(job.TotalsByStatus)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bulk_jobs (job_id, template_id, tenant_id, totals_by_status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.JobID, job.TemplateID, job.TenantID, totalsJSON, job.CreatedAt,
	)
	return err
}

// GetBulkJob fetches one bulk job's current counters.
func (s *Store) GetBulkJob(ctx context.Context, jobID string) (*models.BulkJob, error) {
	var job models.BulkJob
	var totalsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, template_id, tenant_id, totals_by_status, created_at, completed_at
		FROM bulk_jobs WHERE job_id = $1`, jobID,
	).Scan(&job.JobID, &job.TemplateID, &job.TenantID, &totalsJSON, &job.CreatedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(totalsJSON) > 0 {
		if err := json.Unmarshal(totalsJSON, &job.TotalsByStatus); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

// IncrementBulkJobStatus atomically bumps one status counter as a
// recipient message reaches that status, merging into the existing
// totals_by_status JSONB document.
func (s *Store) IncrementBulkJobStatus(ctx context.Context, jobID string, status models.MessageStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bulk_jobs
		   SET totals_by_status = jsonb_set(
		         totals_by_status,
		         ARRAY[$2::text],
		         to_jsonb(COALESCE((totals_by_status->>$2)::int, 0) + 1)
		       )
		 WHERE job_id = $1`,
		jobID, string(status),
	)
	return err
}

// CompleteBulkJob marks a bulk job finished once every recipient
// message has reached a terminal status, emitting bulk.completed in
// the same transaction. A no-op if the job was already completed.
func (s *Store) CompleteBulkJob(ctx context.Context, jobID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE bulk_jobs SET completed_at = now() WHERE job_id = $1 AND completed_at IS NULL`,
			jobID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = publishEvent(ctx, tx, messagesTopic, "bulk.completed", "", map[string]any{
			"job_id": jobID,
		})
		return err
	})
}

// CountBulkJobPending reports how many of a bulk job's recipient
// messages have not yet reached a terminal status, used to decide when
// to call CompleteBulkJob.
func (s *Store) CountBulkJobPending(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM email_messages
		 WHERE bulk_job_id = $1
		   AND status NOT IN ('sent', 'failed', 'delivered', 'bounced', 'complained',
		                       'unsubscribed', 'suppressed')`,
		jobID,
	).Scan(&n)
	return n, err
}
