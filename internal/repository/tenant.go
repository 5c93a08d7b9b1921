package repository

import (
	"context"
	"errors"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TenantRepository struct {
	db dbtx
}

func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: pool}
}

func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrTenantAlreadyExists
	}
	return err
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepository) GetByName(ctx context.Context, name string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM tenants WHERE name = $1`,
		name,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, created_at FROM tenants ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// AddMember joins userID to tenantID. Joining twice is a no-op.
func (r *TenantRepository) AddMember(ctx context.Context, tenantID, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_tenants (user_id, tenant_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, tenant_id) DO NOTHING`,
		userID, tenantID,
	)
	return err
}

// ListTenantIDsForUser returns the tenants userID belongs to.
func (r *TenantRepository) ListTenantIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT tenant_id FROM user_tenants WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}
