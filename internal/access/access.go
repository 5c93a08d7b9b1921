// Package access decides whether a user may read or mutate a knowledge base.
//
// Every function here is pure: callers resolve the user's effective role ids
// and tenant memberships beforehand and pass them in.
package access

import "github.com/as775116191/ragflow/internal/domain"

// TeamMembership answers whether a user belongs to a tenant.
type TeamMembership interface {
	IsMember(tenantID, userID string) bool
}

// CanAccess reports whether userID may view or use kb. Evaluation
// short-circuits in this order: owner, owner-only, team, role. Unknown
// permission modes deny.
func CanAccess(kb *domain.KnowledgeBase, userID string, roleIDs []string, teams TeamMembership) bool {
	if kb == nil || userID == "" {
		return false
	}
	if kb.IsOwner(userID) {
		return true
	}

	switch kb.Permission {
	case domain.PermissionOwnerOnly:
		return false
	case domain.PermissionTeam:
		return teams != nil && teams.IsMember(kb.TenantID, userID)
	case domain.PermissionRole:
		return intersects(kb.RoleIDs, roleIDs)
	default:
		return false
	}
}

// CanDelete is owner-only regardless of the permission mode.
func CanDelete(kb *domain.KnowledgeBase, userID string) bool {
	return kb != nil && kb.IsOwner(userID)
}

// CanManage covers settings and sync configuration changes, which are
// owner-only like deletion.
func CanManage(kb *domain.KnowledgeBase, userID string) bool {
	return CanDelete(kb, userID)
}

// An empty authorized set never matches.
func intersects(authorized, held []string) bool {
	if len(authorized) == 0 || len(held) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(authorized))
	for _, id := range authorized {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	for _, id := range held {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
