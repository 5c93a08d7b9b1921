//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIKey(userID, name, hash string) *domain.APIKey {
	return &domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		CreatedAt: testNow(),
	}
}

func TestAPIKeyRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, _ := setupUser(ctx, t, pool, "keys@example.com")
	keyRepo := NewAPIKeyRepository(pool)

	key := newAPIKey(user.ID, "Test Key", "hashed_key_value")
	require.NoError(t, keyRepo.Create(ctx, key))

	retrieved, err := keyRepo.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.UserID, retrieved.UserID)
	assert.Equal(t, key.Name, retrieved.Name)
	assert.Nil(t, retrieved.RevokedAt)

	byHash, err := keyRepo.GetByHash(ctx, "hashed_key_value")
	require.NoError(t, err)
	assert.Equal(t, key.ID, byHash.ID)

	_, err = keyRepo.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
}

func TestAPIKeyRepository_Create_ForeignKeyViolation(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	err := NewAPIKeyRepository(pool).Create(ctx, newAPIKey(uuid.NewString(), "Orphan Key", "hashed"))
	assert.Error(t, err)
}

func TestAPIKeyRepository_Revoke(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, _ := setupUser(ctx, t, pool, "revoke@example.com")
	keyRepo := NewAPIKeyRepository(pool)

	key := newAPIKey(user.ID, "Revocable", "revocable_hash")
	require.NoError(t, keyRepo.Create(ctx, key))
	require.NoError(t, keyRepo.Revoke(ctx, key.ID))

	retrieved, err := keyRepo.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, retrieved.IsRevoked())

	assert.ErrorIs(t, keyRepo.Revoke(ctx, uuid.NewString()), domain.ErrAPIKeyNotFound)
}

func TestAPIKeyRepository_ListByUserWithCursor(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, _ := setupUser(ctx, t, pool, "pages@example.com")
	other, _ := setupUser(ctx, t, pool, "other@example.com")
	keyRepo := NewAPIKeyRepository(pool)

	for i, hash := range []string{"h1", "h2", "h3"} {
		key := newAPIKey(user.ID, "key", hash)
		key.CreatedAt = key.CreatedAt.Add(-timeStep(i))
		require.NoError(t, keyRepo.Create(ctx, key))
	}
	require.NoError(t, keyRepo.Create(ctx, newAPIKey(other.ID, "foreign", "h4")))

	first, err := keyRepo.ListByUserWithCursor(ctx, user.ID, nil, 2)
	require.NoError(t, err)
	assert.Len(t, first.Items, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	all, err := keyRepo.GetByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
