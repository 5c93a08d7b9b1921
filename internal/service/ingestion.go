package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/as775116191/ragflow/internal/telemetry"
)

// EmbeddingClient generates one vector per input text.
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestionDocumentRepository is the ingestion pipeline's view of documents.
type IngestionDocumentRepository interface {
	GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, msg string) error
}

// BlobReader reads stored document originals.
type BlobReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// IngestionService turns a stored document into indexed chunks.
type IngestionService struct {
	docs     IngestionDocumentRepository
	chunks   ChunkRepositoryInterface
	blobs    BlobReader
	embedder EmbeddingClient
	chunkCfg ChunkConfig
}

// NewIngestionService creates an IngestionService. A nil embedder stores
// chunks without vectors.
func NewIngestionService(docs IngestionDocumentRepository, chunks ChunkRepositoryInterface, blobs BlobReader, embedder EmbeddingClient) *IngestionService {
	return &IngestionService{
		docs:     docs,
		chunks:   chunks,
		blobs:    blobs,
		embedder: embedder,
		chunkCfg: DefaultChunkConfig(),
	}
}

// ProcessDocument parses, chunks, embeds and indexes one document. Errors
// carrying a validation code are permanent; anything else may be retried.
func (s *IngestionService) ProcessDocument(ctx context.Context, documentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ProcessDocument", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "ingest",
	})
	defer span.End()

	doc, err := s.docs.GetByIDIncludingDeleted(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.IsDeleted() {
		return s.docs.UpdateStatus(ctx, doc.ID, domain.DocumentStatusCancelled, "document was deleted before parsing")
	}

	if err := s.docs.UpdateStatus(ctx, doc.ID, domain.DocumentStatusRunning, ""); err != nil {
		return err
	}

	data, err := s.blobs.GetObject(ctx, doc.StorageKey)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("read blob %s: %w", doc.StorageKey, err)
	}
	if doc.ContentHash != "" && kbsync.ContentHash(data) != doc.ContentHash {
		return domain.ErrContentHashMismatch
	}

	text, err := ExtractText(doc.Kind, data)
	if errors.Is(err, ErrNoExtractor) {
		if err := s.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
			return err
		}
		return s.docs.UpdateStatus(ctx, doc.ID, domain.DocumentStatusDone, "stored without text extraction")
	}
	if err != nil {
		return domain.ErrUnsupportedDocumentKind.Wrap(err)
	}

	pieces := chunkText(text, s.chunkCfg)
	var vectors [][]float32
	if s.embedder != nil && len(pieces) > 0 {
		vectors, err = s.embedder.GenerateEmbeddings(ctx, pieces)
		if err != nil {
			span.SetError(err)
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
	}

	now := time.Now().UTC()
	entries := make([]domain.DocumentChunk, 0, len(pieces))
	for i, piece := range pieces {
		entry := domain.DocumentChunk{
			DocumentID: doc.ID,
			KBID:       doc.KBID,
			ChunkIndex: i,
			Content:    piece,
			CreatedAt:  now,
		}
		if i < len(vectors) {
			entry.Embedding = vectors[i]
		}
		entries = append(entries, entry)
	}

	if err := s.chunks.ReplaceChunks(ctx, doc.ID, entries); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	// A delete may have landed while parsing.
	current, err := s.docs.GetByIDIncludingDeleted(ctx, doc.ID)
	if err == nil && current.IsDeleted() {
		if err := s.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
			return err
		}
		return s.docs.UpdateStatus(ctx, doc.ID, domain.DocumentStatusCancelled, "document was deleted while parsing")
	}

	return s.docs.UpdateStatus(ctx, doc.ID, domain.DocumentStatusDone, fmt.Sprintf("%d chunks", len(entries)))
}

// MarkFailed records a permanent ingestion failure on the document.
func (s *IngestionService) MarkFailed(ctx context.Context, documentID, reason string) error {
	return s.docs.UpdateStatus(ctx, documentID, domain.DocumentStatusFailed, reason)
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == domain.ErrCodeValidation || de.Code == domain.ErrCodeNotFound
}
