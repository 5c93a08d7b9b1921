package repository

import (
	"context"
	"errors"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncCursorRepository is the cursor store of the sync engine. One row per
// knowledge base holds the opaque provider cursor or mail watermark.
type SyncCursorRepository struct {
	db dbtx
}

func NewSyncCursorRepository(pool *pgxpool.Pool) *SyncCursorRepository {
	return &SyncCursorRepository{db: pool}
}

// Get returns the stored cursor, or "" when none is stored or it belongs to
// a different source kind.
func (r *SyncCursorRepository) Get(ctx context.Context, kbID string, kind domain.SyncKind) (string, error) {
	var cursor string
	err := r.db.QueryRow(ctx,
		`SELECT cursor FROM sync_cursors WHERE kb_id = $1 AND kind = $2`,
		kbID, kind,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return cursor, err
}

func (r *SyncCursorRepository) Set(ctx context.Context, kbID string, kind domain.SyncKind, cursor string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sync_cursors (kb_id, kind, cursor, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (kb_id) DO UPDATE
		 SET kind = EXCLUDED.kind, cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`,
		kbID, kind, cursor,
	)
	return err
}

func (r *SyncCursorRepository) Delete(ctx context.Context, kbID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sync_cursors WHERE kb_id = $1`, kbID)
	return err
}
