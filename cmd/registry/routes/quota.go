package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/handlers"
	"github.com/openartifacts/registry/cmd/registry/middleware"
)

// RegisterQuotaRoutes registers all quota-related routes
func RegisterQuotaRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewQuotaHandler(c)

	quotas := e.Group("/api/v1/quotas")
	quotas.Use(middleware.ExtractTenant())
	{
		quotas.PUT("", h.SetQuotas)                 // PUT /api/v1/quotas
		quotas.GET("", h.ListQuotas)                // GET /api/v1/quotas
		quotas.GET("/:project", h.GetProjectQuotas) // GET /api/v1/quotas/{project}
	}
}
