//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCursorRepository_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "cursors@example.com")
	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Mirror")
	repo := NewSyncCursorRepository(pool)

	got, err := repo.Get(ctx, kb.ID, domain.SyncKindDrive)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Set(ctx, kb.ID, domain.SyncKindDrive, "token-1"))
	require.NoError(t, repo.Set(ctx, kb.ID, domain.SyncKindDrive, "token-2"))

	got, err = repo.Get(ctx, kb.ID, domain.SyncKindDrive)
	require.NoError(t, err)
	assert.Equal(t, "token-2", got)

	// A cursor recorded for another source kind is not reused.
	got, err = repo.Get(ctx, kb.ID, domain.SyncKindMailbox)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Delete(ctx, kb.ID))
	got, err = repo.Get(ctx, kb.ID, domain.SyncKindDrive)
	require.NoError(t, err)
	assert.Empty(t, got)
}
