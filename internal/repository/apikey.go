package repository

import (
	"context"
	"errors"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type APIKeyPageResult struct {
	Items      []*domain.APIKey
	NextCursor string
	HasMore    bool
}

type APIKeyRepository struct {
	db dbtx
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{db: pool}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, created_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.CreatedAt, key.RevokedAt,
	)
	return err
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, key_hash, created_at, revoked_at
		 FROM api_keys WHERE id = $1`,
		id,
	).Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, key_hash, created_at, revoked_at
		 FROM api_keys WHERE key_hash = $1`,
		hash,
	).Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, name, key_hash, created_at, revoked_at
		 FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*APIKeyPageResult, error) {
	limit = pagination.ClampLimit(limit)

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, user_id, name, key_hash, created_at, revoked_at
			 FROM api_keys
			 WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			userID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, user_id, name, key_hash, created_at, revoked_at
			 FROM api_keys
			 WHERE user_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			userID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(keys) > limit
	if hasMore {
		keys = keys[:limit]
	}

	var nextCursor string
	if hasMore && len(keys) > 0 {
		lastKey := keys[len(keys)-1]
		nextCursor = pagination.EncodeCursor(lastKey.ID, lastKey.CreatedAt)
	}

	return &APIKeyPageResult{
		Items:      keys,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	now := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		now, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

func (r *APIKeyRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM api_keys WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}
