package repository

import (
	"context"
	"errors"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type KnowledgeBaseRepository struct {
	db dbtx
}

func NewKnowledgeBaseRepository(pool *pgxpool.Pool) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: pool}
}

func NewKnowledgeBaseRepositoryWithTx(tx pgx.Tx) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: tx}
}

const kbColumns = `kb.id, kb.tenant_id, kb.owner_id, kb.name, kb.description, kb.permission, kb.role_ids,
	kb.sync_enabled, kb.sync_kind, kb.sync_account, kb.sync_folder, COALESCE(c.cursor, ''),
	kb.created_at, kb.updated_at`

const kbFrom = `knowledge_bases kb LEFT JOIN sync_cursors c ON c.kb_id = kb.id AND c.kind = kb.sync_kind`

func scanKnowledgeBase(row pgx.Row) (*domain.KnowledgeBase, error) {
	var kb domain.KnowledgeBase
	var kind, account, folder pgtype.Text
	err := row.Scan(&kb.ID, &kb.TenantID, &kb.OwnerID, &kb.Name, &kb.Description, &kb.Permission, &kb.RoleIDs,
		&kb.Sync.Enabled, &kind, &account, &folder, &kb.Cursor,
		&kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	kb.Sync.Kind = domain.SyncKind(kind.String)
	kb.Sync.Account = account.String
	kb.Sync.Folder = folder.String
	return &kb, nil
}

func (r *KnowledgeBaseRepository) Create(ctx context.Context, kb *domain.KnowledgeBase) error {
	roleIDs := kb.RoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_bases
			(id, tenant_id, owner_id, name, description, permission, role_ids,
			 sync_enabled, sync_kind, sync_account, sync_folder, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		kb.ID, kb.TenantID, kb.OwnerID, kb.Name, kb.Description, kb.Permission, roleIDs,
		kb.Sync.Enabled, nullableString(string(kb.Sync.Kind)), nullableString(kb.Sync.Account), nullableString(kb.Sync.Folder),
		kb.CreatedAt, kb.UpdatedAt,
	)
	return err
}

func (r *KnowledgeBaseRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	kb, err := scanKnowledgeBase(r.db.QueryRow(ctx,
		`SELECT `+kbColumns+` FROM `+kbFrom+` WHERE kb.id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeBaseNotFound
		}
		return nil, err
	}
	return kb, nil
}

// ListCandidatesWithCursor returns knowledge bases owned by userID, living in
// one of tenantIDs or granting one of roleIDs, newest first. Callers still
// apply access rules.
func (r *KnowledgeBaseRepository) ListCandidatesWithCursor(ctx context.Context, userID string, tenantIDs, roleIDs []string, cursor *pagination.Cursor, limit int) (*service.KnowledgeBasePageResult, error) {
	limit = pagination.ClampLimit(limit)
	if tenantIDs == nil {
		tenantIDs = []string{}
	}
	if roleIDs == nil {
		roleIDs = []string{}
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+kbColumns+` FROM `+kbFrom+`
			 WHERE (kb.owner_id = $1 OR kb.tenant_id::text = ANY($2) OR kb.role_ids && $3)
			   AND (kb.created_at, kb.id) < ($4, $5)
			 ORDER BY kb.created_at DESC, kb.id DESC
			 LIMIT $6`,
			userID, tenantIDs, roleIDs, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+kbColumns+` FROM `+kbFrom+`
			 WHERE kb.owner_id = $1 OR kb.tenant_id::text = ANY($2) OR kb.role_ids && $3
			 ORDER BY kb.created_at DESC, kb.id DESC
			 LIMIT $4`,
			userID, tenantIDs, roleIDs, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}

	kbs, err := collectKnowledgeBases(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(kbs) > limit
	if hasMore {
		kbs = kbs[:limit]
	}

	var nextCursor string
	if hasMore && len(kbs) > 0 {
		last := kbs[len(kbs)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.KnowledgeBasePageResult{
		Items:      kbs,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListSyncEnabled returns every knowledge base the scheduler should sync.
func (r *KnowledgeBaseRepository) ListSyncEnabled(ctx context.Context) ([]*domain.KnowledgeBase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+kbColumns+` FROM `+kbFrom+`
		 WHERE kb.sync_enabled
		 ORDER BY kb.created_at`,
	)
	if err != nil {
		return nil, err
	}
	return collectKnowledgeBases(rows)
}

func collectKnowledgeBases(rows pgx.Rows) ([]*domain.KnowledgeBase, error) {
	defer rows.Close()
	var kbs []*domain.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

// Update saves the descriptive and sharing fields.
func (r *KnowledgeBaseRepository) Update(ctx context.Context, kb *domain.KnowledgeBase) error {
	roleIDs := kb.RoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_bases
		 SET name = $1, description = $2, permission = $3, role_ids = $4, updated_at = $5
		 WHERE id = $6`,
		kb.Name, kb.Description, kb.Permission, roleIDs, kb.UpdatedAt, kb.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

// UpdateSyncConfig saves the remote source settings. With resetCursor the
// knowledge base's sync cursors are deleted in the same statement.
func (r *KnowledgeBaseRepository) UpdateSyncConfig(ctx context.Context, kb *domain.KnowledgeBase, resetCursor bool) error {
	var updated int
	err := r.db.QueryRow(ctx,
		`WITH updated AS (
			UPDATE knowledge_bases
			SET sync_enabled = $1, sync_kind = $2, sync_account = $3, sync_folder = $4, updated_at = $5
			WHERE id = $6
			RETURNING id
		), reset AS (
			DELETE FROM sync_cursors WHERE $7 AND kb_id IN (SELECT id FROM updated)
		)
		SELECT count(*) FROM updated`,
		kb.Sync.Enabled, nullableString(string(kb.Sync.Kind)), nullableString(kb.Sync.Account), nullableString(kb.Sync.Folder),
		kb.UpdatedAt, kb.ID, resetCursor,
	).Scan(&updated)
	if err != nil {
		return err
	}
	if updated == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

func (r *KnowledgeBaseRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}
