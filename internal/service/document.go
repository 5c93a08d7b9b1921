package service

import (
	"context"
	"fmt"
	"log"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/as775116191/ragflow/internal/telemetry"
)

// DocumentRepositoryInterface defines the repository interface for document persistence
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Document, error)
	FindLiveByRemoteID(ctx context.Context, kbID, remoteID string) (*domain.Document, error)
	ListByKBWithCursor(ctx context.Context, kbID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
	ListLiveByKB(ctx context.Context, kbID string) ([]*domain.Document, error)
	Tombstone(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, msg string) error
}

type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// ChunkRepositoryInterface defines the repository interface for the document index
type ChunkRepositoryInterface interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// IngestionJobRepositoryInterface defines the repository interface for queueing parse jobs
type IngestionJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IngestionJob) error
}

// BlobStorage holds original document bytes.
type BlobStorage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

// DocumentService manages the documents of a knowledge base. Besides the
// manual upload path it is the document store the sync reconciler writes to.
type DocumentService struct {
	docRepo DocumentRepositoryInterface
	chunks  ChunkRepositoryInterface
	jobs    IngestionJobRepositoryInterface
	blobs   BlobStorage
	tx      TxRunner
	guard   SyncGuard
	uuidGen UUIDGenerator
}

func NewDocumentService(
	docRepo DocumentRepositoryInterface,
	chunks ChunkRepositoryInterface,
	jobs IngestionJobRepositoryInterface,
	blobs BlobStorage,
	tx TxRunner,
) *DocumentService {
	return NewDocumentServiceWithUUIDGen(docRepo, chunks, jobs, blobs, tx, &DefaultUUIDGenerator{})
}

// NewDocumentServiceWithUUIDGen creates a DocumentService with a custom UUID generator (for testing)
func NewDocumentServiceWithUUIDGen(
	docRepo DocumentRepositoryInterface,
	chunks ChunkRepositoryInterface,
	jobs IngestionJobRepositoryInterface,
	blobs BlobStorage,
	tx TxRunner,
	uuidGen UUIDGenerator,
) *DocumentService {
	return &DocumentService{
		docRepo: docRepo,
		chunks:  chunks,
		jobs:    jobs,
		blobs:   blobs,
		tx:      tx,
		uuidGen: uuidGen,
	}
}

// SetSyncGuard makes manual writes fail with ErrSyncInProgress while the
// knowledge base is being synchronized. The guard is the sync orchestrator,
// which itself depends on this service, so it is wired after construction.
func (s *DocumentService) SetSyncGuard(guard SyncGuard) {
	s.guard = guard
}

func (s *DocumentService) checkNotSyncing(kbID string) error {
	if s.guard != nil && s.guard.IsRunning(kbID) {
		return domain.ErrSyncInProgress
	}
	return nil
}

type UploadDocumentInput struct {
	Name        string
	ContentType string
	Data        []byte
}

// Upload stores a manually uploaded file and queues it for parsing.
func (s *DocumentService) Upload(ctx context.Context, kb *domain.KnowledgeBase, input UploadDocumentInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Upload", telemetry.SpanAttributes{
		TenantID:  kb.TenantID,
		KBID:      kb.ID,
		Operation: "upload",
	})
	defer span.End()

	if err := s.checkNotSyncing(kb.ID); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, domain.ErrStorageNotConfigured
	}

	name := path.Base(strings.TrimSpace(input.Name))
	if name == "" || name == "." || name == "/" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "file name is required")
	}

	now := time.Now().UTC()
	id := s.uuidGen.NewString()
	doc := &domain.Document{
		ID:          id,
		KBID:        kb.ID,
		Name:        name,
		Kind:        domain.DocumentKind(name),
		Size:        int64(len(input.Data)),
		ContentHash: kbsync.ContentHash(input.Data),
		StorageKey:  domain.DocumentStorageKey(kb.ID, id, name),
		Source:      domain.DocumentSourceUpload,
		Status:      domain.DocumentStatusUnstarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	if err := s.blobs.PutObject(ctx, doc.StorageKey, input.Data, contentType); err != nil {
		span.SetError(err)
		return nil, domain.ErrStorageOperationFail.Wrap(err)
	}

	job := domain.NewIngestionJob(s.uuidGen.NewString(), doc.ID, now)
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return err
		}
		return repos.IngestionJobs().Create(ctx, job)
	})
	if err != nil {
		s.deleteBlob(ctx, doc.StorageKey)
		return nil, err
	}
	return doc, nil
}

type ListDocumentsInput struct {
	KBID   string
	Cursor string
	Limit  int
}

type ListDocumentsOutput struct {
	Items   []*domain.Document
	Cursor  string
	HasMore bool
}

// List returns the live documents of a knowledge base, newest first.
func (s *DocumentService) List(ctx context.Context, input ListDocumentsInput) (*ListDocumentsOutput, error) {
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	page, err := s.docRepo.ListByKBWithCursor(ctx, input.KBID, cursor, input.Limit)
	if err != nil {
		return nil, err
	}
	return &ListDocumentsOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// Get returns a live document of kbID.
func (s *DocumentService) Get(ctx context.Context, kbID, docID string) (*domain.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.KBID != kbID {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes a document by hand. Refused while the knowledge base syncs.
func (s *DocumentService) Delete(ctx context.Context, kbID, docID string) error {
	if err := s.checkNotSyncing(kbID); err != nil {
		return err
	}
	doc, err := s.Get(ctx, kbID, docID)
	if err != nil {
		return err
	}
	return s.Remove(ctx, doc)
}

// DownloadURL returns a presigned link to the document's original bytes.
func (s *DocumentService) DownloadURL(ctx context.Context, kbID, docID string) (string, error) {
	if s.blobs == nil {
		return "", domain.ErrStorageNotConfigured
	}
	doc, err := s.Get(ctx, kbID, docID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.GenerateDownloadURL(ctx, doc.StorageKey)
	if err != nil {
		return "", domain.ErrStorageOperationFail.Wrap(err)
	}
	return url, nil
}

// PurgeKnowledgeBase removes every live document of kbID.
func (s *DocumentService) PurgeKnowledgeBase(ctx context.Context, kbID string) error {
	docs, err := s.docRepo.ListLiveByKB(ctx, kbID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.Remove(ctx, doc); err != nil {
			return fmt.Errorf("remove document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// FindLiveByRemoteID looks up the live document mirroring a remote object.
func (s *DocumentService) FindLiveByRemoteID(ctx context.Context, kbID, remoteID string) (*domain.Document, error) {
	return s.docRepo.FindLiveByRemoteID(ctx, kbID, remoteID)
}

// Create inserts a document whose blob is already stored.
func (s *DocumentService) Create(ctx context.Context, doc *domain.Document) error {
	if err := domain.ValidateDocument(doc); err != nil {
		return err
	}
	return s.docRepo.Create(ctx, doc)
}

// Replace tombstones old and inserts fresh in one transaction, so at most one
// live document carries the remote id at any time.
func (s *DocumentService) Replace(ctx context.Context, old, fresh *domain.Document) error {
	if err := domain.ValidateDocument(fresh); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Tombstone(ctx, old.ID, fresh.CreatedAt); err != nil {
			return err
		}
		if err := repos.Chunks().DeleteByDocument(ctx, old.ID); err != nil {
			return err
		}
		return repos.Documents().Create(ctx, fresh)
	})
}

// Remove tombstones doc, drops it from the index and deletes its blob. A blob
// that cannot be deleted is logged and left behind.
func (s *DocumentService) Remove(ctx context.Context, doc *domain.Document) error {
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Tombstone(ctx, doc.ID, time.Now().UTC()); err != nil {
			return err
		}
		return repos.Chunks().DeleteByDocument(ctx, doc.ID)
	})
	if err != nil {
		return err
	}
	s.deleteBlob(ctx, doc.StorageKey)
	return nil
}

// EnqueueForParsing queues a stored document for the ingestion worker.
func (s *DocumentService) EnqueueForParsing(ctx context.Context, documentID string) error {
	job := domain.NewIngestionJob(s.uuidGen.NewString(), documentID, time.Now().UTC())
	return s.jobs.Create(ctx, job)
}

func (s *DocumentService) deleteBlob(ctx context.Context, key string) {
	if s.blobs == nil || key == "" {
		return
	}
	if err := s.blobs.DeleteObject(ctx, key); err != nil {
		log.Printf("document: failed to delete blob %s: %v", key, err)
	}
}
