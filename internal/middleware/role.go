package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // http package defines standard HTTP status codes
	"strings"

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context
)

// Roles understood by the scheduler API.
const (
	RoleAdmin  = "ADMIN"  // operators; may do everything
	RoleIntake = "INTAKE" // the submission intake service
	RoleViewer = "VIEWER" // read-only dashboards
)

// RequireRole returns a middleware that aborts with 403 Forbidden unless
// the role stored by JWTAuth is one of roles.  Matching ignores case.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToUpper(r)] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
