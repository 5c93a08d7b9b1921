//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func newTestPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(context.Background()) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)
	return pool
}

func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// setupUser creates a user in a tenant of its own.
func setupUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, email string) (*domain.User, *domain.Tenant) {
	t.Helper()
	user := &domain.User{ID: uuid.NewString(), Email: email, Name: email, CreatedAt: testNow()}
	require.NoError(t, NewUserRepository(pool).Create(ctx, user))

	tenants := NewTenantRepository(pool)
	tenant := domain.NewTenant(uuid.NewString(), "team of "+email, testNow())
	require.NoError(t, tenants.Create(ctx, tenant))
	require.NoError(t, tenants.AddMember(ctx, tenant.ID, user.ID))
	return user, tenant
}

func setupKB(ctx context.Context, t *testing.T, pool *pgxpool.Pool, tenantID, ownerID, name string) *domain.KnowledgeBase {
	t.Helper()
	kb := domain.NewKnowledgeBase(uuid.NewString(), tenantID, ownerID, name, testNow())
	require.NoError(t, NewKnowledgeBaseRepository(pool).Create(ctx, kb))
	return kb
}

func newDocument(kbID, name, remoteID string) *domain.Document {
	id := uuid.NewString()
	at := testNow()
	doc := &domain.Document{
		ID:          id,
		KBID:        kbID,
		Name:        name,
		Kind:        domain.DocumentKind(name),
		Size:        12,
		ContentHash: "hash-" + id,
		StorageKey:  domain.DocumentStorageKey(kbID, id, name),
		Source:      domain.DocumentSourceUpload,
		Status:      domain.DocumentStatusUnstarted,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if remoteID != "" {
		doc.Source = domain.DocumentSourceDrive
		doc.RemoteID = remoteID
		doc.RemotePath = "/" + name
	}
	return doc
}

func timeStep(i int) time.Duration {
	return time.Duration(i) * time.Second
}
