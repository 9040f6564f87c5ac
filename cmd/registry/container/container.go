package container

import (
	"context"
	"fmt"

	"github.com/openartifacts/registry/cmd/registry/repository"
	"github.com/openartifacts/registry/cmd/registry/service"
	"github.com/openartifacts/registry/common/bootstrap"
	"github.com/openartifacts/registry/common/policy"
	"github.com/openartifacts/registry/common/redlock"
	"github.com/openartifacts/registry/common/store"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	ArtifactRepo *repository.ArtifactRepository
	QuotaRepo    *repository.QuotaRepository

	// Services
	TypeRegistry    *service.TypeRegistry
	LockEngine      *service.LockEngine
	QuotaService    *service.QuotaService
	Notifier        *service.Notifier
	ArtifactService *service.ArtifactService
	BlobService     *service.BlobService
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	enforcer, err := policy.NewEnforcer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy enforcer: %w", err)
	}

	registry, err := service.NewTypeRegistry(service.DefaultTypes()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build type registry: %w", err)
	}

	// Initialize repositories
	artifactRepo := repository.NewArtifactRepository(components.DB, log)
	quotaRepo := repository.NewQuotaRepository(components.DB, log)

	lockBackend, err := buildLockBackend(components)
	if err != nil {
		return nil, err
	}

	blobStore, err := buildBlobStore(ctx, components)
	if err != nil {
		return nil, err
	}

	// Initialize services (bottom-up: dependencies first)
	lockEngine := service.NewLockEngine(lockBackend, log)
	quotaService := service.NewQuotaService(artifactRepo, quotaRepo, registry,
		enforcer, components.Cache, cfg.Cache.DefaultTTL, cfg.Quota, log)
	notifier := service.NewNotifier(components.Queue, log)

	artifactService := service.NewArtifactService(artifactRepo, blobStore, registry,
		lockEngine, quotaService, enforcer, notifier, log)
	blobService := service.NewBlobService(artifactRepo, blobStore, registry,
		lockEngine, quotaService, enforcer, notifier, log)

	return &Container{
		Components:      components,
		ArtifactRepo:    artifactRepo,
		QuotaRepo:       quotaRepo,
		TypeRegistry:    registry,
		LockEngine:      lockEngine,
		QuotaService:    quotaService,
		Notifier:        notifier,
		ArtifactService: artifactService,
		BlobService:     blobService,
	}, nil
}

// buildLockBackend selects the configured mutual-exclusion backend.
func buildLockBackend(components *bootstrap.Components) (service.LockBackend, error) {
	cfg := components.Config.Lock
	switch cfg.Backend {
	case "sql":
		return repository.NewLockRepository(components.DB, components.Logger, cfg.StaleAfter), nil
	case "redis":
		if components.Redis == nil {
			return nil, fmt.Errorf("redis lock backend requires a redis connection")
		}
		return redlock.New(components.Redis, cfg.StaleAfter, components.Logger), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// buildBlobStore selects the configured blob payload store.
func buildBlobStore(ctx context.Context, components *bootstrap.Components) (store.Backend, error) {
	cfg := components.Config.Store
	switch cfg.Backend {
	case "database":
		return store.NewDatabaseBackend(components.DB), nil
	case "s3":
		return store.NewS3Backend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
