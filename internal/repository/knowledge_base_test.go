//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeBaseRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "kb@example.com")
	repo := NewKnowledgeBaseRepository(pool)

	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Handbook")

	got, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "Handbook", got.Name)
	assert.Equal(t, domain.PermissionOwnerOnly, got.Permission)
	assert.Empty(t, got.RoleIDs)
	assert.False(t, got.Sync.Enabled)
	assert.Empty(t, got.Cursor)

	got.Permission = domain.PermissionRole
	got.RoleIDs = []string{"finance"}
	got.UpdatedAt = testNow()
	require.NoError(t, repo.Update(ctx, got))

	got.Sync = domain.SyncConfig{Enabled: true, Kind: domain.SyncKindMailbox, Account: "ops@example.com", Folder: "Inbox"}
	require.NoError(t, repo.UpdateSyncConfig(ctx, got, true))

	reloaded, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, reloaded.RoleIDs)
	assert.Equal(t, got.Sync, reloaded.Sync)

	enabled, err := repo.ListSyncEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, kb.ID, enabled[0].ID)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)
}

func TestKnowledgeBaseRepository_CursorJoinsMatchingKind(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "cursor@example.com")
	repo := NewKnowledgeBaseRepository(pool)
	cursors := NewSyncCursorRepository(pool)

	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Drive mirror")
	kb.Sync = domain.SyncConfig{Enabled: true, Kind: domain.SyncKindDrive, Account: "ops@example.com"}
	require.NoError(t, repo.UpdateSyncConfig(ctx, kb, true))

	require.NoError(t, cursors.Set(ctx, kb.ID, domain.SyncKindDrive, "delta-token-1"))

	got, err := repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "delta-token-1", got.Cursor)

	// Switching the source kind hides the stale cursor.
	kb.Sync.Kind = domain.SyncKindMailbox
	kb.Sync.Folder = "Inbox"
	require.NoError(t, repo.UpdateSyncConfig(ctx, kb, false))

	got, err = repo.GetByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Cursor)
}

func TestKnowledgeBaseRepository_UpdateSyncConfigResetsCursor(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "reset@example.com")
	repo := NewKnowledgeBaseRepository(pool)
	cursors := NewSyncCursorRepository(pool)

	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Drive mirror")
	kb.Sync = domain.SyncConfig{Enabled: true, Kind: domain.SyncKindDrive, Account: "ops@example.com"}
	require.NoError(t, repo.UpdateSyncConfig(ctx, kb, false))
	require.NoError(t, cursors.Set(ctx, kb.ID, domain.SyncKindDrive, "delta-token-1"))

	kb.Sync.Enabled = false
	require.NoError(t, repo.UpdateSyncConfig(ctx, kb, false))
	cursor, err := cursors.Get(ctx, kb.ID, domain.SyncKindDrive)
	require.NoError(t, err)
	assert.Equal(t, "delta-token-1", cursor)

	kb.Sync.Account = "other@example.com"
	require.NoError(t, repo.UpdateSyncConfig(ctx, kb, true))
	cursor, err = cursors.Get(ctx, kb.ID, domain.SyncKindDrive)
	require.NoError(t, err)
	assert.Empty(t, cursor)

	missing := *kb
	missing.ID = uuid.NewString()
	assert.ErrorIs(t, repo.UpdateSyncConfig(ctx, &missing, true), domain.ErrKnowledgeBaseNotFound)
}

func TestKnowledgeBaseRepository_ListCandidatesWithCursor(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	repo := NewKnowledgeBaseRepository(pool)
	alice, aliceTeam := setupUser(ctx, t, pool, "alice@example.com")
	bob, bobTeam := setupUser(ctx, t, pool, "bob@example.com")

	own := setupKB(ctx, t, pool, aliceTeam.ID, alice.ID, "own")
	roleKB := domain.NewKnowledgeBase(uuid.NewString(), bobTeam.ID, bob.ID, "role", testNow())
	roleKB.Permission = domain.PermissionRole
	roleKB.RoleIDs = []string{"finance"}
	require.NoError(t, repo.Create(ctx, roleKB))
	hidden := setupKB(ctx, t, pool, bobTeam.ID, bob.ID, "hidden")

	page, err := repo.ListCandidatesWithCursor(ctx, alice.ID, []string{aliceTeam.ID}, []string{"finance"}, nil, 10)
	require.NoError(t, err)

	var ids []string
	for _, kb := range page.Items {
		ids = append(ids, kb.ID)
	}
	assert.ElementsMatch(t, []string{own.ID, roleKB.ID}, ids)
	assert.NotContains(t, ids, hidden.ID)
	assert.False(t, page.HasMore)

	first, err := repo.ListCandidatesWithCursor(ctx, alice.ID, []string{aliceTeam.ID}, []string{"finance"}, nil, 1)
	require.NoError(t, err)
	require.True(t, first.HasMore)

	cursor, err := pagination.DecodeCursor(first.NextCursor)
	require.NoError(t, err)
	second, err := repo.ListCandidatesWithCursor(ctx, alice.ID, []string{aliceTeam.ID}, []string{"finance"}, cursor, 1)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.NotEqual(t, first.Items[0].ID, second.Items[0].ID)
}

func TestKnowledgeBaseRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "cascade@example.com")
	repo := NewKnowledgeBaseRepository(pool)
	docs := NewDocumentRepository(pool)

	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Temporary")
	doc := newDocument(kb.ID, "a.txt", "")
	require.NoError(t, docs.Create(ctx, doc))

	require.NoError(t, repo.Delete(ctx, kb.ID))
	assert.ErrorIs(t, repo.Delete(ctx, kb.ID), domain.ErrKnowledgeBaseNotFound)

	_, err := docs.GetByIDIncludingDeleted(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}
