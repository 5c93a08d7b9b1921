package access

import (
	"slices"

	"github.com/as775116191/ragflow/internal/domain"
)

// Principal is an authenticated user with memberships already resolved.
type Principal struct {
	UserID    string
	RoleIDs   []string
	TenantIDs []string
}

// IsMember implements TeamMembership from the resolved tenant set. It only
// answers for the principal's own user id.
func (p Principal) IsMember(tenantID, userID string) bool {
	if userID != p.UserID || tenantID == "" {
		return false
	}
	return slices.Contains(p.TenantIDs, tenantID)
}

// CanAccess evaluates kb for this principal.
func (p Principal) CanAccess(kb *domain.KnowledgeBase) bool {
	return CanAccess(kb, p.UserID, p.RoleIDs, p)
}

func (p Principal) CanDelete(kb *domain.KnowledgeBase) bool {
	return CanDelete(kb, p.UserID)
}

func (p Principal) CanManage(kb *domain.KnowledgeBase) bool {
	return CanManage(kb, p.UserID)
}
