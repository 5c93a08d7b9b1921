package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockIngestionJobRepository is a mock implementation of IngestionJobRepository
type MockIngestionJobRepository struct {
	mock.Mock
}

func (m *MockIngestionJobRepository) GetPendingJobs(ctx context.Context) ([]*domain.IngestionJob, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.IngestionJob), args.Error(1)
}

func (m *MockIngestionJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.IngestionJobStatus, errMsg string) error {
	args := m.Called(ctx, jobID, status, errMsg)
	return args.Error(0)
}

func (m *MockIngestionJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockIngestionService is a mock implementation of IngestionService
type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) ProcessDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

func (m *MockIngestionService) MarkFailed(ctx context.Context, documentID, reason string) error {
	args := m.Called(ctx, documentID, reason)
	return args.Error(0)
}

func pendingJob(id, docID string, retries int32) *domain.IngestionJob {
	return &domain.IngestionJob{
		ID:         id,
		DocumentID: docID,
		Status:     domain.IngestionJobStatusPending,
		Retries:    retries,
	}
}

func nonEmpty(msg string) bool { return msg != "" }

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(250 * time.Millisecond)

	// Stop worker
	worker.Stop()
	wg.Wait()

	// Verify ProcessJobs was called at least once
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	// Cancel context
	cancel()
	wg.Wait()

	// Verify ProcessJobs was called
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

type panickingProcessor struct {
	mu    sync.Mutex
	calls int
}

func (p *panickingProcessor) ProcessJobs(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	if n == 1 {
		panic("scheduler bug")
	}
	return nil
}

func (p *panickingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestWorker_PanicDoesNotStopLoop(t *testing.T) {
	proc := &panickingProcessor{}
	worker := NewWorker("sync-scheduler", proc, 20*time.Millisecond)
	assert.Equal(t, "sync-scheduler", worker.Name())

	go worker.Start(context.Background())

	assert.Eventually(t, func() bool { return proc.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	worker.Stop()
	worker.Stop()
}

func TestIngestionWorker_ProcessJobs_NoPendingJobs(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	mockRepo.On("GetPendingJobs", mock.Anything).Return([]*domain.IngestionJob{}, nil)

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertNotCalled(t, "ProcessDocument", mock.Anything, mock.Anything)
}

func TestIngestionWorker_ProcessJobs_Success(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	mockRepo.On("GetPendingJobs", mock.Anything).Return([]*domain.IngestionJob{pendingJob("job-1", "doc-1", 0)}, nil)
	mockService.On("ProcessDocument", mock.Anything, "doc-1").Return(nil)
	mockRepo.On("UpdateJobStatus", mock.Anything, "job-1", domain.IngestionJobStatusCompleted, "").Return(nil)

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
}

func TestIngestionWorker_ProcessJobs_FailureWithRetry(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	mockRepo.On("GetPendingJobs", mock.Anything).Return([]*domain.IngestionJob{pendingJob("job-1", "doc-1", 0)}, nil)
	mockService.On("ProcessDocument", mock.Anything, "doc-1").Return(errors.New("blob store timeout"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateJobStatus", mock.Anything, "job-1", domain.IngestionJobStatusPending, mock.MatchedBy(nonEmpty)).Return(nil)

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
	mockService.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestionWorker_ProcessJobs_MaxRetriesExceeded(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	mockRepo.On("GetPendingJobs", mock.Anything).Return([]*domain.IngestionJob{pendingJob("job-1", "doc-1", 2)}, nil)
	mockService.On("ProcessDocument", mock.Anything, "doc-1").Return(errors.New("embedding API down"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateJobStatus", mock.Anything, "job-1", domain.IngestionJobStatusFailed, mock.MatchedBy(nonEmpty)).Return(nil)
	mockService.On("MarkFailed", mock.Anything, "doc-1", mock.MatchedBy(nonEmpty)).Return(nil)

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
}

func TestIngestionWorker_ProcessJobs_PermanentErrorFailsImmediately(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	permanent := domain.NewDomainError(domain.ErrCodeValidation, "unreadable document")

	mockRepo.On("GetPendingJobs", mock.Anything).Return([]*domain.IngestionJob{pendingJob("job-1", "doc-1", 0)}, nil)
	mockService.On("ProcessDocument", mock.Anything, "doc-1").Return(permanent)
	mockRepo.On("UpdateJobStatus", mock.Anything, "job-1", domain.IngestionJobStatusFailed, mock.MatchedBy(nonEmpty)).Return(nil)
	mockService.On("MarkFailed", mock.Anything, "doc-1", mock.MatchedBy(nonEmpty)).Return(nil)

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "IncrementRetries", mock.Anything, mock.Anything)
}

func TestIngestionWorker_ProcessJobs_MultipleJobs(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	jobs := []*domain.IngestionJob{
		pendingJob("job-1", "doc-1", 0),
		pendingJob("job-2", "doc-2", 0),
	}
	mockRepo.On("GetPendingJobs", mock.Anything).Return(jobs, nil)

	mockService.On("ProcessDocument", mock.Anything, "doc-1").Return(nil)
	mockRepo.On("UpdateJobStatus", mock.Anything, "job-1", domain.IngestionJobStatusCompleted, "").Return(nil)

	// A failing job does not stop the batch.
	mockService.On("ProcessDocument", mock.Anything, "doc-2").Return(errors.New("transient"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-2").Return(nil)
	mockRepo.On("UpdateJobStatus", mock.Anything, "job-2", domain.IngestionJobStatusPending, mock.MatchedBy(nonEmpty)).Return(nil)

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
}

func TestIngestionWorker_ProcessJobs_RepositoryError(t *testing.T) {
	mockRepo := new(MockIngestionJobRepository)
	mockService := new(MockIngestionService)

	mockRepo.On("GetPendingJobs", mock.Anything).Return(nil, errors.New("database error"))

	worker := NewIngestionWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch pending jobs")
	mockRepo.AssertExpectations(t)
}
