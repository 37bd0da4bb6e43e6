package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/repost-scheduler/internal/handler"    // handlers that call into the scheduling engine
	"github.com/iliyamo/repost-scheduler/internal/middleware" // JWT authentication, role enforcement and rate limiting
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Check) {
	e.GET("/healthz", handler.Health(checks))
}

// RegisterAPI registers the scheduling API under /v1.  Every route
// requires a valid access token; the rate limiter runs after JWTAuth so it
// can key on the caller.  Booking writes are limited to ADMIN and INTAKE,
// reads also accept VIEWER.  Follower refreshes are ADMIN only.
func RegisterAPI(e *echo.Echo, jwtSecret string, limiter echo.MiddlewareFunc, bookings *handler.BookingHandler, members *handler.MemberHandler) {
	v1 := e.Group("/v1", middleware.JWTAuth(jwtSecret), limiter)

	admin := middleware.RequireRole(middleware.RoleAdmin)
	write := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleIntake)
	read := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleIntake, middleware.RoleViewer)

	v1.POST("/bookings", bookings.Schedule, write)
	v1.GET("/bookings/:id", bookings.Get, read)
	v1.DELETE("/bookings/:id", bookings.Cancel, write)

	v1.GET("/dates/suggestions", bookings.SuggestDates, read)
	v1.POST("/channels/suggestions", bookings.SuggestChannels, read)

	v1.GET("/members/:id", members.Get, read)
	v1.PATCH("/members/:id/followers", members.UpdateFollowers, admin)
}
