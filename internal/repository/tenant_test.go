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

func TestTenantRepository_Membership(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, own := setupUser(ctx, t, pool, "member@example.com")
	tenants := NewTenantRepository(pool)

	shared := domain.NewTenant(uuid.NewString(), "shared", testNow())
	require.NoError(t, tenants.Create(ctx, shared))
	require.NoError(t, tenants.AddMember(ctx, shared.ID, user.ID))
	// Joining twice is a no-op.
	require.NoError(t, tenants.AddMember(ctx, shared.ID, user.ID))

	ids, err := tenants.ListTenantIDsForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{own.ID, shared.ID}, ids)

	byName, err := tenants.GetByName(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, shared.ID, byName.ID)

	err = tenants.Create(ctx, domain.NewTenant(uuid.NewString(), "shared", testNow()))
	assert.ErrorIs(t, err, domain.ErrTenantAlreadyExists)
}

func TestUserRepository_CreateAndRoles(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	users := NewUserRepository(pool)
	user, _ := setupUser(ctx, t, pool, "roles@example.com")

	got, err := users.GetByEmail(ctx, "roles@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = users.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	dup := &domain.User{ID: uuid.NewString(), Email: "roles@example.com", CreatedAt: testNow()}
	assert.ErrorIs(t, users.Create(ctx, dup), domain.ErrUserAlreadyExists)

	require.NoError(t, users.GrantRole(ctx, user.ID, "finance"))
	require.NoError(t, users.GrantRole(ctx, user.ID, "legal"))
	require.NoError(t, users.GrantRole(ctx, user.ID, "finance"))

	roles, err := users.ListRoleIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"finance", "legal"}, roles)
}
