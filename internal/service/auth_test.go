package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

func (m *MockUserRepository) GrantRole(ctx context.Context, userID, roleID string) error {
	args := m.Called(ctx, userID, roleID)
	return args.Error(0)
}

func (m *MockUserRepository) ListRoleIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockTenantRepository struct {
	mock.Mock
}

func (m *MockTenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Tenant), args.Error(1)
}

func (m *MockTenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Tenant), args.Error(1)
}

func (m *MockTenantRepository) AddMember(ctx context.Context, tenantID, userID string) error {
	args := m.Called(ctx, tenantID, userID)
	return args.Error(0)
}

func (m *MockTenantRepository) ListTenantIDsForUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type authHarness struct {
	users   *MockUserRepository
	tenants *MockTenantRepository
	keys    *MockAPIKeyRepository
	svc     *AuthService
}

func newAuthHarness(uuids ...string) *authHarness {
	h := &authHarness{
		users:   new(MockUserRepository),
		tenants: new(MockTenantRepository),
		keys:    new(MockAPIKeyRepository),
	}
	h.svc = NewAuthService(h.users, h.tenants, h.keys, NewMockUUIDGenerator(uuids...))
	return h
}

const validToken = "rfk_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestAuthService_CreateUser_CreatesPersonalTenant(t *testing.T) {
	ctx := context.Background()
	h := newAuthHarness("user-1", "tenant-1")

	h.users.On("Create", ctx, mock.MatchedBy(func(u *domain.User) bool {
		return u.ID == "user-1" && u.Email == "alice@example.com"
	})).Return(nil)
	h.tenants.On("Create", ctx, mock.MatchedBy(func(tn *domain.Tenant) bool {
		return tn.ID == "tenant-1"
	})).Return(nil)
	h.tenants.On("AddMember", ctx, "tenant-1", "user-1").Return(nil)

	user, err := h.svc.CreateUser(ctx, " Alice@Example.com ", "Alice")

	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	h.users.AssertExpectations(t)
	h.tenants.AssertExpectations(t)
}

func TestAuthService_CreateUser_InvalidEmail(t *testing.T) {
	h := newAuthHarness("user-1")

	_, err := h.svc.CreateUser(context.Background(), "not-an-email", "")

	require.Error(t, err)
	h.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_GetOrCreateUser_ReturnsExisting(t *testing.T) {
	ctx := context.Background()
	h := newAuthHarness()
	existing := &domain.User{ID: "user-1", Email: "a@example.com"}
	h.users.On("GetByEmail", ctx, "a@example.com").Return(existing, nil)

	user, err := h.svc.GetOrCreateUser(ctx, "a@example.com")

	require.NoError(t, err)
	assert.Same(t, existing, user)
	h.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_CreateAPIKey(t *testing.T) {
	ctx := context.Background()
	h := newAuthHarness("key-1")

	h.users.On("GetByID", ctx, "user-1").Return(&domain.User{ID: "user-1", Email: "a@example.com"}, nil)
	var stored *domain.APIKey
	h.keys.On("Create", ctx, mock.MatchedBy(func(k *domain.APIKey) bool {
		stored = k
		return k.ID == "key-1" && k.UserID == "user-1"
	})).Return(nil)

	token, err := h.svc.CreateAPIKey(ctx, "user-1", "laptop")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "rfk_"))
	assert.Len(t, token, 68)
	assert.True(t, IsValidAPIToken(token))
	require.NotNil(t, stored)
	assert.Equal(t, hashToken(token), stored.KeyHash)
	assert.NotEqual(t, token, stored.KeyHash)
}

func TestAuthService_CreateAPIKeyWithToken_RejectsBadFormat(t *testing.T) {
	h := newAuthHarness()

	err := h.svc.CreateAPIKeyWithToken(context.Background(), "user-1", "boot", "abc_short")

	require.Error(t, err)
	h.keys.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_ValidateAPIKey(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		h := newAuthHarness()
		h.keys.On("GetByHash", ctx, hashToken(validToken)).Return(&domain.APIKey{ID: "k", UserID: "user-1"}, nil)

		userID, err := h.svc.ValidateAPIKey(ctx, validToken)

		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("malformed", func(t *testing.T) {
		h := newAuthHarness()

		_, err := h.svc.ValidateAPIKey(ctx, "Bearer nope")

		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
	})

	t.Run("unknown", func(t *testing.T) {
		h := newAuthHarness()
		h.keys.On("GetByHash", ctx, mock.Anything).Return(nil, domain.ErrAPIKeyNotFound)

		_, err := h.svc.ValidateAPIKey(ctx, validToken)

		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
	})

	t.Run("revoked", func(t *testing.T) {
		h := newAuthHarness()
		revoked := time.Now().UTC()
		h.keys.On("GetByHash", ctx, mock.Anything).Return(&domain.APIKey{ID: "k", UserID: "user-1", RevokedAt: &revoked}, nil)

		_, err := h.svc.ValidateAPIKey(ctx, validToken)

		assert.ErrorIs(t, err, domain.ErrAPIKeyRevoked)
	})
}

func TestAuthService_ResolvePrincipal(t *testing.T) {
	ctx := context.Background()
	h := newAuthHarness()
	h.keys.On("GetByHash", ctx, hashToken(validToken)).Return(&domain.APIKey{ID: "k", UserID: "user-1"}, nil)
	h.tenants.On("ListTenantIDsForUser", ctx, "user-1").Return([]string{"tenant-1", "tenant-2"}, nil)
	h.users.On("ListRoleIDs", ctx, "user-1").Return([]string{"finance"}, nil)

	p, err := h.svc.ResolvePrincipal(ctx, validToken)

	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, []string{"tenant-1", "tenant-2"}, p.TenantIDs)
	assert.Equal(t, []string{"finance"}, p.RoleIDs)
	assert.True(t, p.IsMember("tenant-2", "user-1"))
}

func TestAuthService_GrantRole(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a role id", func(t *testing.T) {
		h := newAuthHarness()
		require.Error(t, h.svc.GrantRole(ctx, "user-1", " "))
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newAuthHarness()
		h.users.On("GetByID", ctx, "ghost").Return(nil, domain.ErrUserNotFound)

		assert.ErrorIs(t, h.svc.GrantRole(ctx, "ghost", "finance"), domain.ErrUserNotFound)
	})

	t.Run("grants", func(t *testing.T) {
		h := newAuthHarness()
		h.users.On("GetByID", ctx, "user-1").Return(&domain.User{ID: "user-1"}, nil)
		h.users.On("GrantRole", ctx, "user-1", "finance").Return(nil)

		require.NoError(t, h.svc.GrantRole(ctx, "user-1", "finance"))
		h.users.AssertExpectations(t)
	})
}

func TestAuthService_AddTenantMember(t *testing.T) {
	ctx := context.Background()
	h := newAuthHarness()
	h.tenants.On("GetByID", ctx, "tenant-1").Return(&domain.Tenant{ID: "tenant-1", Name: "Team"}, nil)
	h.users.On("GetByID", ctx, "user-2").Return(&domain.User{ID: "user-2"}, nil)
	h.tenants.On("AddMember", ctx, "tenant-1", "user-2").Return(nil)

	require.NoError(t, h.svc.AddTenantMember(ctx, "tenant-1", "user-2"))
	h.tenants.AssertExpectations(t)
}

func TestIsValidAPIToken(t *testing.T) {
	assert.True(t, IsValidAPIToken(validToken))
	assert.True(t, IsValidAPIToken("rfk_"+strings.ToUpper(validToken[4:])))
	assert.False(t, IsValidAPIToken("rfk_123"))
	assert.False(t, IsValidAPIToken("abc_"+validToken[4:]))
	assert.False(t, IsValidAPIToken("rfk_"+strings.Repeat("z", 64)))
}
