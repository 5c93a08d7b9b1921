package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/service"
)

const (
	// MaxRetries is the maximum number of attempts for a failing job
	MaxRetries = 3
)

// IngestionJobRepository defines the interface for ingestion job persistence
type IngestionJobRepository interface {
	// GetPendingJobs retrieves and claims pending ingestion jobs
	GetPendingJobs(ctx context.Context) ([]*domain.IngestionJob, error)

	UpdateJobStatus(ctx context.Context, jobID string, status domain.IngestionJobStatus, errMsg string) error

	IncrementRetries(ctx context.Context, jobID string) error
}

// IngestionService parses a stored document into the search index
type IngestionService interface {
	ProcessDocument(ctx context.Context, documentID string) error
	MarkFailed(ctx context.Context, documentID, reason string) error
}

// IngestionWorker drains the ingestion queue
type IngestionWorker struct {
	repo    IngestionJobRepository
	service IngestionService
}

func NewIngestionWorker(repo IngestionJobRepository, service IngestionService) *IngestionWorker {
	return &IngestionWorker{
		repo:    repo,
		service: service,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestionWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.GetPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending ingestion jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *IngestionWorker) processJob(ctx context.Context, job *domain.IngestionJob) error {
	if job.DocumentID == "" {
		return fmt.Errorf("job %s has no document_id", job.ID)
	}

	log.Printf("Processing job %s for document %s", job.ID, job.DocumentID)
	if err := w.service.ProcessDocument(ctx, job.DocumentID); err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.IngestionJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure requeues a job until it runs out of attempts. Permanent
// errors fail the job immediately.
func (w *IngestionWorker) handleJobFailure(ctx context.Context, job *domain.IngestionJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if service.IsPermanent(jobErr) {
		return w.fail(ctx, job, jobErr.Error())
	}

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("Job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		return w.fail(ctx, job, fmt.Sprintf("max retries exceeded: %v", jobErr))
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.IngestionJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}

func (w *IngestionWorker) fail(ctx context.Context, job *domain.IngestionJob, reason string) error {
	if err := w.repo.UpdateJobStatus(ctx, job.ID, domain.IngestionJobStatusFailed, reason); err != nil {
		return fmt.Errorf("failed to update job status to failed: %w", err)
	}
	if err := w.service.MarkFailed(ctx, job.DocumentID, reason); err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}
