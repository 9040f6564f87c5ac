package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/middleware"
	"github.com/openartifacts/registry/cmd/registry/repository"
	"github.com/openartifacts/registry/cmd/registry/routes"
	"github.com/openartifacts/registry/common/bootstrap"
	"github.com/openartifacts/registry/common/config"
	"github.com/openartifacts/registry/common/ratelimit"
	"github.com/openartifacts/registry/common/server"
	"github.com/openartifacts/registry/common/telemetry"
)

func main() {
	ctx := context.Background()

	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load("registry")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	opts := []bootstrap.Option{
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithDBInitHook(repository.InitSchema),
	}
	// Redis backs the redis lock engine and the rate limiter
	if cfg.Lock.Backend != "redis" && !cfg.RateLimit.Enabled {
		opts = append(opts, bootstrap.WithoutRedis())
	}

	components, err := bootstrap.Setup(ctx, "registry", opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap registry: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	if cfg.Service.PprofPort > 0 {
		telemetry.New(cfg.Service.PprofPort, components.Logger).Start()
	}

	e := setupEcho()
	setupMiddleware(e, cfg, components)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	srv := server.New("registry", cfg.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, cfg *config.Config, components *bootstrap.Components) {
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())

	if cfg.RateLimit.Enabled && components.Redis != nil {
		limiter := ratelimit.New(components.Redis, components.Logger)
		e.Use(middleware.GlobalRateLimit(limiter, cfg.RateLimit.GlobalLimit, cfg.RateLimit.WindowSec))
		e.Use(middleware.TenantRateLimit(limiter, cfg.RateLimit.TenantLimit, cfg.RateLimit.WindowSec))
	}
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "registry",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterArtifactRoutes(e, serviceContainer)
	routes.RegisterBlobRoutes(e, serviceContainer)
	routes.RegisterQuotaRoutes(e, serviceContainer)
	routes.RegisterSchemaRoutes(e, serviceContainer)
}
