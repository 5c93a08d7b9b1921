package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/domain"
)

const apiKeyPrefix = "rfk_"

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	GrantRole(ctx context.Context, userID, roleID string) error
	ListRoleIDs(ctx context.Context, userID string) ([]string, error)
}

type TenantRepository interface {
	Create(ctx context.Context, t *domain.Tenant) error
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
	AddMember(ctx context.Context, tenantID, userID string) error
	ListTenantIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type AuthService struct {
	userRepo   UserRepository
	tenantRepo TenantRepository
	keyRepo    APIKeyRepository
	uuidGen    UUIDGenerator
}

func NewAuthService(userRepo UserRepository, tenantRepo TenantRepository, keyRepo APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		tenantRepo: tenantRepo,
		keyRepo:    keyRepo,
		uuidGen:    uuidGen,
	}
}

// CreateUser registers a user together with a personal tenant the user
// belongs to.
func (s *AuthService) CreateUser(ctx context.Context, email, name string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "email is required")
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:        s.uuidGen.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
	}
	if err := domain.ValidateUser(user); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid user", err)
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	tenant := domain.NewTenant(s.uuidGen.NewString(), email, now)
	if err := s.tenantRepo.Create(ctx, tenant); err != nil {
		return nil, err
	}
	if err := s.tenantRepo.AddMember(ctx, tenant.ID, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// GetOrCreateUser returns the user registered under email, creating it when missing.
func (s *AuthService) GetOrCreateUser(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	return s.CreateUser(ctx, email, "")
}

func (s *AuthService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.userRepo.List(ctx)
}

func (s *AuthService) CreateTenant(ctx context.Context, name string) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "tenant name is required")
	}
	tenant := domain.NewTenant(s.uuidGen.NewString(), name, time.Now().UTC())
	if err := s.tenantRepo.Create(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (s *AuthService) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	return s.tenantRepo.List(ctx)
}

// AddTenantMember joins a user to a team.
func (s *AuthService) AddTenantMember(ctx context.Context, tenantID, userID string) error {
	if _, err := s.tenantRepo.GetByID(ctx, tenantID); err != nil {
		return err
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.tenantRepo.AddMember(ctx, tenantID, userID)
}

func (s *AuthService) GrantRole(ctx context.Context, userID, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "role ID is required")
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.userRepo.GrantRole(ctx, userID, roleID)
}

func (s *AuthService) CreateAPIKey(ctx context.Context, userID, name string) (string, error) {
	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}
	if err := s.CreateAPIKeyWithToken(ctx, userID, name, token); err != nil {
		return "", err
	}
	return token, nil
}

// CreateAPIKeyWithToken stores a caller-chosen token, used for bootstrap keys.
func (s *AuthService) CreateAPIKeyWithToken(ctx context.Context, userID, name, token string) error {
	if userID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "user ID is required")
	}
	if name == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}
	if !IsValidAPIToken(token) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid API key format (expected rfk_<64 hex chars>)")
	}

	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}

	key := &domain.APIKey{
		ID:        s.uuidGen.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashToken(token),
		CreatedAt: time.Now().UTC(),
	}
	if err := domain.ValidateAPIKey(key); err != nil {
		return err
	}
	return s.keyRepo.Create(ctx, key)
}

// ValidateAPIKey returns the id of the user the token belongs to.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}
	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}
	return key.UserID, nil
}

// ResolvePrincipal authenticates token and loads the memberships access
// control needs.
func (s *AuthService) ResolvePrincipal(ctx context.Context, token string) (access.Principal, error) {
	userID, err := s.ValidateAPIKey(ctx, token)
	if err != nil {
		return access.Principal{}, err
	}
	return s.PrincipalFor(ctx, userID)
}

// PrincipalFor loads a user's tenant memberships and role grants.
func (s *AuthService) PrincipalFor(ctx context.Context, userID string) (access.Principal, error) {
	tenantIDs, err := s.tenantRepo.ListTenantIDsForUser(ctx, userID)
	if err != nil {
		return access.Principal{}, err
	}
	roleIDs, err := s.userRepo.ListRoleIDs(ctx, userID)
	if err != nil {
		return access.Principal{}, err
	}
	return access.Principal{UserID: userID, RoleIDs: roleIDs, TenantIDs: tenantIDs}, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}
	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	if userID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "user ID is required")
	}
	return s.keyRepo.GetByUserID(ctx, userID)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
