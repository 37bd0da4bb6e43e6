package middleware

// identity.go holds the context keys JWTAuth writes and the accessors the
// rest of the request chain uses to read them.

import (
	"github.com/labstack/echo/v4"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated subject, or "anon" when the request
// carried no verified token.
func UserID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// Role returns the authenticated role, or "" when absent.
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}
