package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/handlers"
)

// RegisterSchemaRoutes registers the artifact type listing routes.
// Schemas are public; no tenant header is required to read them.
func RegisterSchemaRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSchemaHandler(c)

	e.GET("/api/v1/schemas", h.ListSchemas)     // GET /api/v1/schemas
	e.GET("/api/v1/schemas/:type", h.GetSchema) // GET /api/v1/schemas/{type}
}
