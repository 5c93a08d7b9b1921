package domain

import (
	"fmt"
	"time"
)

// IngestionJobStatus represents the status of a parsing job
type IngestionJobStatus string

const (
	IngestionJobStatusPending    IngestionJobStatus = "pending"
	IngestionJobStatusProcessing IngestionJobStatus = "processing"
	IngestionJobStatusCompleted  IngestionJobStatus = "completed"
	IngestionJobStatusFailed     IngestionJobStatus = "failed"
)

func (s IngestionJobStatus) IsValid() bool {
	switch s {
	case IngestionJobStatusPending, IngestionJobStatusProcessing, IngestionJobStatusCompleted, IngestionJobStatusFailed:
		return true
	}
	return false
}

// IngestionJob queues a document for parsing, chunking and embedding
type IngestionJob struct {
	ID          string
	DocumentID  string
	Status      IngestionJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewIngestionJob creates a pending job for documentID
func NewIngestionJob(id, documentID string, createdAt time.Time) *IngestionJob {
	return &IngestionJob{
		ID:         id,
		DocumentID: documentID,
		Status:     IngestionJobStatusPending,
		CreatedAt:  createdAt,
	}
}

// ValidateIngestionJob validates an IngestionJob instance
func ValidateIngestionJob(j *IngestionJob) error {
	if j == nil {
		return fmt.Errorf("ingestion job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("ingestion job ID is required")
	}
	if j.DocumentID == "" {
		return fmt.Errorf("ingestion job DocumentID is required")
	}
	if !j.Status.IsValid() {
		return ErrInvalidIngestionStatus
	}
	if j.Retries < 0 {
		return fmt.Errorf("ingestion job Retries cannot be negative")
	}
	return nil
}
