package repository

import (
	"context"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DocumentChunkRepository handles persistence of indexed document chunks.
type DocumentChunkRepository struct {
	db dbtx
}

func NewDocumentChunkRepository(pool *pgxpool.Pool) *DocumentChunkRepository {
	return &DocumentChunkRepository{db: pool}
}

func NewDocumentChunkRepositoryWithTx(tx pgx.Tx) *DocumentChunkRepository {
	return &DocumentChunkRepository{db: tx}
}

// ReplaceChunks deletes existing chunks for a document and inserts new ones.
func (r *DocumentChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.DocumentChunk) error {
	if err := r.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		var embedding *pgvector.Vector
		if len(c.Embedding) > 0 {
			v := pgvector.NewVector(c.Embedding)
			embedding = &v
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_chunks (document_id, kb_id, chunk_index, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			documentID, c.KBID, c.ChunkIndex, c.Content, embedding, createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteByDocument drops a document from the index.
func (r *DocumentChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

func (r *DocumentChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}
