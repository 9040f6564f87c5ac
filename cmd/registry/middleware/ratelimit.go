package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/common/ratelimit"
)

// GlobalRateLimit caps the total request rate across all tenants.
// Errors from the limiter fail open so Redis trouble never takes the
// API down with it.
func GlobalRateLimit(limiter *ratelimit.Limiter, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.CheckGlobal(c.Request().Context(), limit, windowSec)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":   "global_rate_limit_exceeded",
					"message": "Service is experiencing high load. Please try again later.",
					"details": map[string]any{
						"limit":               result.Limit,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// TenantRateLimit caps the request rate per tenant. Requests without a
// tenant identity pass through; ExtractTenant rejects those on the
// routes that require one.
func TenantRateLimit(limiter *ratelimit.Limiter, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get("X-Tenant-Id")
			if tenantID == "" {
				return next(c)
			}

			result, err := limiter.CheckTenant(c.Request().Context(), tenantID, limit, windowSec)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":   "tenant_rate_limit_exceeded",
					"message": "You have exceeded your request quota. Please wait before trying again.",
					"details": map[string]any{
						"tenant":              tenantID,
						"limit":               result.Limit,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
