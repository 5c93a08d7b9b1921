package domain

import (
	"fmt"
	"strings"
	"time"
)

// Permission is the sharing mode of a knowledge base.
type Permission string

const (
	PermissionOwnerOnly Permission = "me"
	PermissionTeam      Permission = "team"
	PermissionRole      Permission = "role"
)

// IsValid reports whether p is a known permission mode.
func (p Permission) IsValid() bool {
	switch p {
	case PermissionOwnerOnly, PermissionTeam, PermissionRole:
		return true
	}
	return false
}

// SyncKind identifies which remote provider a knowledge base mirrors.
type SyncKind string

const (
	SyncKindDrive   SyncKind = "drive"
	SyncKindMailbox SyncKind = "mailbox"
)

func (k SyncKind) IsValid() bool {
	return k == SyncKindDrive || k == SyncKindMailbox
}

// SyncConfig holds the remote source a knowledge base is mirrored from.
type SyncConfig struct {
	Enabled bool
	Kind    SyncKind
	// Account is the mailbox address or drive owner on the provider.
	Account string
	// Folder optionally scopes the sync. Required for mailbox syncs.
	Folder string
}

// KnowledgeBase is a collection of documents owned by one user inside a tenant.
type KnowledgeBase struct {
	ID          string
	TenantID    string
	OwnerID     string
	Name        string
	Description string
	Permission  Permission
	RoleIDs     []string
	Sync        SyncConfig
	// Cursor is the last committed sync position; empty before the first
	// successful sync.
	Cursor    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewKnowledgeBase creates a private knowledge base.
func NewKnowledgeBase(id, tenantID, ownerID, name string, createdAt time.Time) *KnowledgeBase {
	return &KnowledgeBase{
		ID:         id,
		TenantID:   tenantID,
		OwnerID:    ownerID,
		Name:       name,
		Permission: PermissionOwnerOnly,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

// IsOwner reports whether userID owns the knowledge base.
func (kb *KnowledgeBase) IsOwner(userID string) bool {
	return userID != "" && kb.OwnerID == userID
}

// FolderPrefix returns the normalized scope folder, or "" when the sync is
// not scoped.
func (c SyncConfig) FolderPrefix() string {
	f := strings.Trim(strings.TrimSpace(c.Folder), "/")
	if f == "" {
		return ""
	}
	return "/" + f
}

// SameSource reports whether c and other read the same remote location, so a
// cursor saved under one is still valid under the other.
func (c SyncConfig) SameSource(other SyncConfig) bool {
	return c.Kind == other.Kind &&
		strings.EqualFold(strings.TrimSpace(c.Account), strings.TrimSpace(other.Account)) &&
		strings.EqualFold(c.FolderPrefix(), other.FolderPrefix())
}

// ValidateKnowledgeBase validates a KnowledgeBase instance
func ValidateKnowledgeBase(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("knowledge base cannot be nil")
	}
	if kb.ID == "" {
		return NewDomainError(ErrCodeValidation, "knowledge base ID is required")
	}
	if kb.TenantID == "" {
		return NewDomainError(ErrCodeValidation, "knowledge base TenantID is required")
	}
	if kb.OwnerID == "" {
		return NewDomainError(ErrCodeValidation, "knowledge base OwnerID is required")
	}
	if strings.TrimSpace(kb.Name) == "" {
		return NewDomainError(ErrCodeValidation, "knowledge base Name is required")
	}
	if !kb.Permission.IsValid() {
		return ErrInvalidPermission
	}
	if kb.Permission == PermissionRole && len(kb.RoleIDs) == 0 {
		return ErrRoleIDsRequired
	}
	return ValidateSyncConfig(kb.Sync)
}

// ValidateSyncConfig checks that an enabled sync names everything a run needs.
func ValidateSyncConfig(c SyncConfig) error {
	if !c.Enabled {
		if c.Kind != "" && !c.Kind.IsValid() {
			return ErrInvalidSyncKind
		}
		return nil
	}
	if !c.Kind.IsValid() {
		return ErrInvalidSyncKind
	}
	if strings.TrimSpace(c.Account) == "" {
		return ErrSyncConfiguration.Wrap(fmt.Errorf("%s account is required", c.Kind))
	}
	if c.Kind == SyncKindMailbox && strings.TrimSpace(c.Folder) == "" {
		return ErrSyncConfiguration.Wrap(fmt.Errorf("mailbox folder is required"))
	}
	return nil
}
