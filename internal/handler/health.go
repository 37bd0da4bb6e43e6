package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http" // net/http provides status codes and response helpers
	"sort"
	"time"

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Check pings one dependency.  A nil error means healthy.
type Check func(ctx context.Context) error

// Health returns the health-check endpoint used by load balancers.  It runs
// every check with a short timeout and answers 200 {"status":"ok"} or 503
// with the failing dependencies.  With no checks it always answers ok.
func Health(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		failed := echo.Map{}
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				failed[n] = err.Error()
			}
		}
		if len(failed) > 0 {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "failed": failed})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
