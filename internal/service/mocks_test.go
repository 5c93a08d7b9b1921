package service

import (
	"context"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/stretchr/testify/mock"
)

type MockKnowledgeBaseRepository struct {
	mock.Mock
}

func (m *MockKnowledgeBaseRepository) Create(ctx context.Context, kb *domain.KnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) ListCandidatesWithCursor(ctx context.Context, userID string, tenantIDs, roleIDs []string, cursor *pagination.Cursor, limit int) (*KnowledgeBasePageResult, error) {
	args := m.Called(ctx, userID, tenantIDs, roleIDs, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*KnowledgeBasePageResult), args.Error(1)
}

func (m *MockKnowledgeBaseRepository) Update(ctx context.Context, kb *domain.KnowledgeBase) error {
	args := m.Called(ctx, kb)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepository) UpdateSyncConfig(ctx context.Context, kb *domain.KnowledgeBase, resetCursor bool) error {
	args := m.Called(ctx, kb, resetCursor)
	return args.Error(0)
}

func (m *MockKnowledgeBaseRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindLiveByRemoteID(ctx context.Context, kbID, remoteID string) (*domain.Document, error) {
	args := m.Called(ctx, kbID, remoteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListByKBWithCursor(ctx context.Context, kbID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error) {
	args := m.Called(ctx, kbID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentPageResult), args.Error(1)
}

func (m *MockDocumentRepository) ListLiveByKB(ctx context.Context, kbID string) ([]*domain.Document, error) {
	args := m.Called(ctx, kbID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) Tombstone(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, msg string) error {
	args := m.Called(ctx, id, status, msg)
	return args.Error(0)
}

type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error {
	args := m.Called(ctx, documentID, chunks)
	return args.Error(0)
}

func (m *MockChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

type MockIngestionJobRepository struct {
	mock.Mock
}

func (m *MockIngestionJobRepository) Create(ctx context.Context, job *domain.IngestionJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type MockBlobStorage struct {
	mock.Mock
}

func (m *MockBlobStorage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

func (m *MockBlobStorage) GetObject(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBlobStorage) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

// MockUUIDGenerator hands out the given ids in order, then "default-uuid".
type MockUUIDGenerator struct {
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	return "default-uuid"
}

type stubGuard map[string]bool

func (g stubGuard) IsRunning(kbID string) bool {
	return g[kbID]
}
