package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/models"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// RequestContextKey is the echo context key the parsed caller identity
// is stored under.
const RequestContextKey ContextKey = "request_context"

// ExtractTenant builds the caller identity from the X-Tenant-Id and
// X-Roles headers. Every artifact route requires a tenant; roles are a
// comma separated list where "admin" and "read-only" are meaningful.
func ExtractTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get("X-Tenant-Id")
			if tenantID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "X-Tenant-Id header is required",
				})
			}

			rc := &models.RequestContext{TenantID: tenantID}
			for _, role := range strings.Split(c.Request().Header.Get("X-Roles"), ",") {
				switch strings.TrimSpace(strings.ToLower(role)) {
				case "admin":
					rc.IsAdmin = true
				case "read-only":
					rc.ReadOnly = true
				}
			}

			c.Set(string(RequestContextKey), rc)
			return next(c)
		}
	}
}

// GetRequestContext retrieves the caller identity set by ExtractTenant.
func GetRequestContext(c echo.Context) *models.RequestContext {
	rc, _ := c.Get(string(RequestContextKey)).(*models.RequestContext)
	if rc == nil {
		return &models.RequestContext{}
	}
	return rc
}
