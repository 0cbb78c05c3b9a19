package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
)

// RequireRole returns middleware that admits an authenticated identity whose
// role is one of roles. It must run after Authenticate. An empty role list
// admits no one.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apierr.Unauthenticated("authentication required")
			}
			if !HasRole(identity, roles...) {
				return apierr.Forbidden(fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
			}
			return next(c)
		}
	}
}

// HasRole reports whether identity holds one of roles.
func HasRole(identity *Identity, roles ...string) bool {
	if identity == nil {
		return false
	}
	for _, r := range roles {
		if identity.Role == r {
			return true
		}
	}
	return false
}
