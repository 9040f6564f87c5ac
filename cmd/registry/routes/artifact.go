package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/handlers"
	"github.com/openartifacts/registry/cmd/registry/middleware"
)

// RegisterArtifactRoutes registers all artifact-related routes
func RegisterArtifactRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewArtifactHandler(c)

	artifacts := e.Group("/api/v1/artifacts")
	artifacts.Use(middleware.ExtractTenant())
	{
		artifacts.POST("/:type", h.CreateArtifact)       // POST /api/v1/artifacts/{type}
		artifacts.GET("/:type", h.ListArtifacts)         // GET /api/v1/artifacts/{type}
		artifacts.GET("/:type/:id", h.GetArtifact)       // GET /api/v1/artifacts/{type}/{id}
		artifacts.PATCH("/:type/:id", h.UpdateArtifact)  // PATCH /api/v1/artifacts/{type}/{id}
		artifacts.DELETE("/:type/:id", h.DeleteArtifact) // DELETE /api/v1/artifacts/{type}/{id}
	}
}
