package lifecycle

import (
	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

var officerTargets = []domain.IssueStatus{
	domain.IssueStatusInProgress,
	domain.IssueStatusPendingUserInfo,
}

// roleTargets maps each role to the statuses it may move an issue into.
var roleTargets = map[domain.Role]map[domain.IssueStatus]struct{}{
	domain.RoleCitizen: {},
	domain.RoleOfficer: setOf(officerTargets...),
	domain.RoleSupervisor: setOf(append([]domain.IssueStatus{
		domain.IssueStatusTriaged,
		domain.IssueStatusAssigned,
		domain.IssueStatusResolved,
		domain.IssueStatusRejected,
	}, officerTargets...)...),
	domain.RoleAdmin: setOf(domain.AllStatuses...),
}

var assignRoles = map[domain.Role]struct{}{
	domain.RoleSupervisor: {},
	domain.RoleAdmin:      {},
}

// CanTarget reports whether role may move an issue into status.
func CanTarget(role domain.Role, status domain.IssueStatus) bool {
	_, ok := roleTargets[role][status]
	return ok
}

// CanAssign reports whether role may write the assignee.
func CanAssign(role domain.Role) bool {
	_, ok := assignRoles[role]
	return ok
}

// RolesFor lists the roles allowed to target status, least privileged first.
func RolesFor(status domain.IssueStatus) []domain.Role {
	roles := []domain.Role{}
	for _, role := range domain.AllRoles {
		if CanTarget(role, status) {
			roles = append(roles, role)
		}
	}
	return roles
}

// CheckTarget returns FORBIDDEN when role may not target status.
func CheckTarget(role domain.Role, status domain.IssueStatus) error {
	if CanTarget(role, status) {
		return nil
	}
	return apperrors.NewForbidden("role may not set this status", map[string]any{
		"role":           role,
		"target_status":  status,
		"required_roles": RolesFor(status),
	})
}

// CheckAssign returns FORBIDDEN when role may not write the assignee.
func CheckAssign(role domain.Role) error {
	if CanAssign(role) {
		return nil
	}
	return apperrors.NewForbidden("role may not assign issues", map[string]any{
		"role":           role,
		"required_roles": []domain.Role{domain.RoleSupervisor, domain.RoleAdmin},
	})
}

func setOf(statuses ...domain.IssueStatus) map[domain.IssueStatus]struct{} {
	out := make(map[domain.IssueStatus]struct{}, len(statuses))
	for _, s := range statuses {
		out[s] = struct{}{}
	}
	return out
}
