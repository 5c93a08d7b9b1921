package repository

import (
	"context"
	"errors"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IngestionJobRepository struct {
	db dbtx
}

func NewIngestionJobRepository(pool *pgxpool.Pool) *IngestionJobRepository {
	return &IngestionJobRepository{db: pool}
}

func NewIngestionJobRepositoryWithTx(tx pgx.Tx) *IngestionJobRepository {
	return &IngestionJobRepository{db: tx}
}

func scanIngestionJob(row pgx.Row) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	var errMsg pgtype.Text
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	job.Error = errMsg.String
	return &job, nil
}

func (r *IngestionJobRepository) Create(ctx context.Context, job *domain.IngestionJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingestion_jobs (id, document_id, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.DocumentID, job.Status, job.Retries, nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	return err
}

func (r *IngestionJobRepository) GetByID(ctx context.Context, id string) (*domain.IngestionJob, error) {
	job, err := scanIngestionJob(r.db.QueryRow(ctx,
		`SELECT id, document_id, status, retries, error, created_at, processed_at
		 FROM ingestion_jobs WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIngestionJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimPending moves up to limit pending jobs to processing and returns them.
// Concurrent workers never claim the same job.
func (r *IngestionJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM ingestion_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE ingestion_jobs
		 SET status = $3,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE ingestion_jobs.id = cte.id
		 RETURNING ingestion_jobs.id, ingestion_jobs.document_id, ingestion_jobs.status, ingestion_jobs.retries,
		           ingestion_jobs.error, ingestion_jobs.created_at, ingestion_jobs.processed_at`,
		domain.IngestionJobStatusPending, limit, domain.IngestionJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.IngestionJob
	for rows.Next() {
		job, err := scanIngestionJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *IngestionJobRepository) UpdateStatus(ctx context.Context, id string, status domain.IngestionJobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.IngestionJobStatusCompleted || status == domain.IngestionJobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestion_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIngestionJobNotFound
	}
	return nil
}

func (r *IngestionJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE ingestion_jobs SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrIngestionJobNotFound
	}
	return nil
}

// GetPendingJobs claims the next batch for the ingestion worker.
func (r *IngestionJobRepository) GetPendingJobs(ctx context.Context) ([]*domain.IngestionJob, error) {
	return r.ClaimPending(ctx, 100)
}

func (r *IngestionJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.IngestionJobStatus, errMsg string) error {
	return r.UpdateStatus(ctx, jobID, status, errMsg)
}
