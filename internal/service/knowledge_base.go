package service

import (
	"context"
	"strings"
	"time"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/as775116191/ragflow/internal/telemetry"
	"github.com/google/uuid"
)

// KnowledgeBaseRepositoryInterface defines the repository interface for knowledge base persistence
type KnowledgeBaseRepositoryInterface interface {
	Create(ctx context.Context, kb *domain.KnowledgeBase) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error)
	ListCandidatesWithCursor(ctx context.Context, userID string, tenantIDs, roleIDs []string, cursor *pagination.Cursor, limit int) (*KnowledgeBasePageResult, error)
	Update(ctx context.Context, kb *domain.KnowledgeBase) error
	// UpdateSyncConfig saves kb.Sync and, when resetCursor is set, drops the
	// saved sync cursor in the same statement.
	UpdateSyncConfig(ctx context.Context, kb *domain.KnowledgeBase, resetCursor bool) error
	Delete(ctx context.Context, id string) error
}

type KnowledgeBasePageResult struct {
	Items      []*domain.KnowledgeBase
	NextCursor string
	HasMore    bool
}

// SyncGuard reports whether a knowledge base is currently being synchronized.
type SyncGuard interface {
	IsRunning(kbID string) bool
}

// DocumentPurger drops every document of a knowledge base.
type DocumentPurger interface {
	PurgeKnowledgeBase(ctx context.Context, kbID string) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// KnowledgeBaseService handles knowledge base CRUD behind access control.
type KnowledgeBaseService struct {
	kbRepo  KnowledgeBaseRepositoryInterface
	purger  DocumentPurger
	guard   SyncGuard
	uuidGen UUIDGenerator
}

func NewKnowledgeBaseService(kbRepo KnowledgeBaseRepositoryInterface, purger DocumentPurger, guard SyncGuard) *KnowledgeBaseService {
	return NewKnowledgeBaseServiceWithUUIDGen(kbRepo, purger, guard, &DefaultUUIDGenerator{})
}

// NewKnowledgeBaseServiceWithUUIDGen creates a KnowledgeBaseService with a custom UUID generator (for testing)
func NewKnowledgeBaseServiceWithUUIDGen(kbRepo KnowledgeBaseRepositoryInterface, purger DocumentPurger, guard SyncGuard, uuidGen UUIDGenerator) *KnowledgeBaseService {
	return &KnowledgeBaseService{
		kbRepo:  kbRepo,
		purger:  purger,
		guard:   guard,
		uuidGen: uuidGen,
	}
}

type CreateKnowledgeBaseInput struct {
	TenantID    string
	Name        string
	Description string
	Permission  domain.Permission
	RoleIDs     []string
	Sync        domain.SyncConfig
}

type UpdateKnowledgeBaseInput struct {
	Name        *string
	Description *string
	Permission  *domain.Permission
	RoleIDs     []string
}

type ListKnowledgeBasesInput struct {
	Cursor string
	Limit  int
}

type ListKnowledgeBasesOutput struct {
	Items   []*domain.KnowledgeBase
	Cursor  string
	HasMore bool
}

// Create makes p the owner of a new knowledge base in one of p's tenants.
// When TenantID is empty the principal's first tenant is used.
func (s *KnowledgeBaseService) Create(ctx context.Context, p access.Principal, input CreateKnowledgeBaseInput) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Create", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Operation: "create",
	})
	defer span.End()

	tenantID := input.TenantID
	if tenantID == "" && len(p.TenantIDs) > 0 {
		tenantID = p.TenantIDs[0]
	}
	if tenantID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "tenant is required")
	}
	if !p.IsMember(tenantID, p.UserID) {
		return nil, domain.ErrAccessDenied
	}

	kb := domain.NewKnowledgeBase(s.uuidGen.NewString(), tenantID, p.UserID, strings.TrimSpace(input.Name), time.Now().UTC())
	kb.Description = input.Description
	if input.Permission != "" {
		kb.Permission = input.Permission
	}
	kb.RoleIDs = input.RoleIDs
	kb.Sync = input.Sync

	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return nil, err
	}
	if err := s.kbRepo.Create(ctx, kb); err != nil {
		span.SetError(err)
		return nil, err
	}
	return kb, nil
}

// Get returns a knowledge base p may access.
func (s *KnowledgeBaseService) Get(ctx context.Context, p access.Principal, id string) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Get", telemetry.SpanAttributes{
		KBID:      id,
		Operation: "get",
	})
	defer span.End()

	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(kb) {
		return nil, domain.ErrAccessDenied
	}
	return kb, nil
}

// List returns the knowledge bases p may access. A page can hold fewer than
// limit items because candidates failing the access check are dropped.
func (s *KnowledgeBaseService) List(ctx context.Context, p access.Principal, input ListKnowledgeBasesInput) (*ListKnowledgeBasesOutput, error) {
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}

	page, err := s.kbRepo.ListCandidatesWithCursor(ctx, p.UserID, p.TenantIDs, p.RoleIDs, cursor, input.Limit)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.KnowledgeBase, 0, len(page.Items))
	for _, kb := range page.Items {
		if p.CanAccess(kb) {
			items = append(items, kb)
		}
	}

	return &ListKnowledgeBasesOutput{
		Items:   items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// Update changes the descriptive and sharing fields. Owner only.
func (s *KnowledgeBaseService) Update(ctx context.Context, p access.Principal, id string, input UpdateKnowledgeBaseInput) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Update", telemetry.SpanAttributes{
		KBID:      id,
		Operation: "update",
	})
	defer span.End()

	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(kb) {
		return nil, domain.ErrOwnerOnly
	}

	if input.Name != nil {
		kb.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		kb.Description = *input.Description
	}
	if input.Permission != nil {
		kb.Permission = *input.Permission
	}
	if input.RoleIDs != nil {
		kb.RoleIDs = input.RoleIDs
	}
	kb.UpdatedAt = time.Now().UTC()

	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return nil, err
	}
	if err := s.kbRepo.Update(ctx, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

// UpdateSyncConfig replaces the remote source settings. Owner only, refused
// while a sync of the knowledge base is running. Pointing the knowledge base
// at another kind, account or folder discards the saved cursor.
func (s *KnowledgeBaseService) UpdateSyncConfig(ctx context.Context, p access.Principal, id string, cfg domain.SyncConfig) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.UpdateSyncConfig", telemetry.SpanAttributes{
		KBID:      id,
		SyncKind:  string(cfg.Kind),
		Operation: "update_sync_config",
	})
	defer span.End()

	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(kb) {
		return nil, domain.ErrOwnerOnly
	}
	if s.guard != nil && s.guard.IsRunning(id) {
		return nil, domain.ErrSyncInProgress
	}
	if err := domain.ValidateSyncConfig(cfg); err != nil {
		return nil, err
	}

	reset := !kb.Sync.SameSource(cfg)
	kb.Sync = cfg
	kb.UpdatedAt = time.Now().UTC()
	if err := s.kbRepo.UpdateSyncConfig(ctx, kb, reset); err != nil {
		return nil, err
	}
	if reset {
		kb.Cursor = ""
	}
	return kb, nil
}

// Delete removes the knowledge base and all of its documents. Owner only,
// refused while a sync is running.
func (s *KnowledgeBaseService) Delete(ctx context.Context, p access.Principal, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseService.Delete", telemetry.SpanAttributes{
		KBID:      id,
		Operation: "delete",
	})
	defer span.End()

	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.CanDelete(kb) {
		return domain.ErrOwnerOnly
	}
	if s.guard != nil && s.guard.IsRunning(id) {
		return domain.ErrSyncInProgress
	}

	if s.purger != nil {
		if err := s.purger.PurgeKnowledgeBase(ctx, id); err != nil {
			span.SetError(err)
			return err
		}
	}
	return s.kbRepo.Delete(ctx, id)
}

// AuthorizeManage loads a knowledge base and checks p owns it.
func (s *KnowledgeBaseService) AuthorizeManage(ctx context.Context, p access.Principal, id string) (*domain.KnowledgeBase, error) {
	kb, err := s.kbRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(kb) {
		return nil, domain.ErrOwnerOnly
	}
	return kb, nil
}
