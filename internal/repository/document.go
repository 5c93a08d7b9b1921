package repository

import (
	"context"
	"errors"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

const documentColumns = `id, kb_id, name, kind, size, content_hash, storage_key, source, remote_id, remote_path,
	status, status_msg, created_at, updated_at, deleted_at`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var remoteID, remotePath, statusMsg pgtype.Text
	err := row.Scan(&d.ID, &d.KBID, &d.Name, &d.Kind, &d.Size, &d.ContentHash, &d.StorageKey, &d.Source,
		&remoteID, &remotePath, &d.Status, &statusMsg, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt)
	if err != nil {
		return nil, err
	}
	d.RemoteID = remoteID.String
	d.RemotePath = remotePath.String
	d.StatusMsg = statusMsg.String
	return &d, nil
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.KBID, d.Name, d.Kind, d.Size, d.ContentHash, d.StorageKey, d.Source,
		nullableString(d.RemoteID), nullableString(d.RemotePath), d.Status, nullableString(d.StatusMsg),
		d.CreatedAt, d.UpdatedAt, d.DeletedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDocumentAlreadyExists
	}
	return err
}

// GetByID returns a live document.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND deleted_at IS NULL`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

// GetByIDIncludingDeleted also returns tombstoned documents.
func (r *DocumentRepository) GetByIDIncludingDeleted(ctx context.Context, id string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepository) FindLiveByRemoteID(ctx context.Context, kbID, remoteID string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE kb_id = $1 AND remote_id = $2 AND deleted_at IS NULL`,
		kbID, remoteID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepository) ListByKBWithCursor(ctx context.Context, kbID string, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	limit = pagination.ClampLimit(limit)

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE kb_id = $1 AND deleted_at IS NULL AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			kbID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE kb_id = $1 AND deleted_at IS NULL
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			kbID, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(docs) > limit
	if hasMore {
		docs = docs[:limit]
	}

	var nextCursor string
	if hasMore && len(docs) > 0 {
		last := docs[len(docs)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.DocumentPageResult{
		Items:      docs,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListLiveByKB returns every live document of a knowledge base.
func (r *DocumentRepository) ListLiveByKB(ctx context.Context, kbID string) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE kb_id = $1 AND deleted_at IS NULL ORDER BY created_at`,
		kbID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Tombstone marks a live document deleted. Tombstoning an already deleted
// document reports ErrDocumentNotFound.
func (r *DocumentRepository) Tombstone(ctx context.Context, id string, at time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		at, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, msg string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, status_msg = $2, updated_at = $3 WHERE id = $4`,
		status, nullableString(msg), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
