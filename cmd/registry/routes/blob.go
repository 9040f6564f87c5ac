package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/handlers"
	"github.com/openartifacts/registry/cmd/registry/middleware"
)

// RegisterBlobRoutes registers blob upload, download and location routes
func RegisterBlobRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBlobHandler(c)

	blobs := e.Group("/api/v1/artifacts")
	blobs.Use(middleware.ExtractTenant())
	{
		blobs.PUT("/:type/:id/:field", h.PutBlob)            // PUT /api/v1/artifacts/{type}/{id}/{field}
		blobs.GET("/:type/:id/:field", h.DownloadBlob)       // GET /api/v1/artifacts/{type}/{id}/{field}
		blobs.DELETE("/:type/:id/:field", h.DeleteBlob)      // DELETE /api/v1/artifacts/{type}/{id}/{field}
		blobs.PUT("/:type/:id/:field/:key", h.PutBlob)       // PUT /api/v1/artifacts/{type}/{id}/{field}/{key}
		blobs.GET("/:type/:id/:field/:key", h.DownloadBlob)  // GET /api/v1/artifacts/{type}/{id}/{field}/{key}
		blobs.DELETE("/:type/:id/:field/:key", h.DeleteBlob) // DELETE /api/v1/artifacts/{type}/{id}/{field}/{key}
	}
}
