package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// RequireRole ensures the principal holds one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role", map[string]any{
				"role":           principal.Role,
				"required_roles": allowed,
			})
		}
		return c.Next()
	}
}

// RequireStaff admits any staff role.
func RequireStaff() fiber.Handler {
	return RequireRole(domain.RoleOfficer, domain.RoleSupervisor, domain.RoleAdmin)
}

// RequireAnyRole ensures caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return RequireRole()
}
