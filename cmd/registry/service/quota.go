package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/cache"
	"github.com/openartifacts/registry/common/config"
	"github.com/openartifacts/registry/common/logger"
	"github.com/openartifacts/registry/common/policy"
)

// QuotaCounter measures a tenant's current usage.
type QuotaCounter interface {
	CountArtifacts(ctx context.Context, owner, typeName string) (int64, error)
	SumUploadedData(ctx context.Context, owner, typeName string) (int64, error)
}

// QuotaStore persists per-project quota overrides.
type QuotaStore interface {
	SetQuotas(ctx context.Context, values map[string]map[string]int64) error
	GetAllQuotas(ctx context.Context, projectID string) (map[string]map[string]int64, error)
}

// QuotaService enforces artifact-count and uploaded-data limits. The
// effective limit for a tenant is the project override when present,
// otherwise the per-type or global configured default; -1 disables a
// limit.
type QuotaService struct {
	counter  QuotaCounter
	store    QuotaStore
	registry *TypeRegistry
	enforcer *policy.Enforcer
	cache    cache.Cache
	cacheTTL time.Duration
	defaults config.QuotaConfig
	log      *logger.Logger
}

// NewQuotaService wires the quota accountant. cache may be nil.
func NewQuotaService(counter QuotaCounter, store QuotaStore, registry *TypeRegistry,
	enforcer *policy.Enforcer, c cache.Cache, cacheTTL time.Duration,
	defaults config.QuotaConfig, log *logger.Logger) *QuotaService {
	return &QuotaService{
		counter:  counter,
		store:    store,
		registry: registry,
		enforcer: enforcer,
		cache:    c,
		cacheTTL: cacheTTL,
		defaults: defaults,
		log:      log,
	}
}

func subjectFor(rc *models.RequestContext) policy.Subject {
	return policy.Subject{
		TenantID: rc.TenantID,
		IsAdmin:  rc.IsAdmin,
		ReadOnly: rc.ReadOnly,
	}
}

// VerifyArtifactCount fails with Forbidden when creating one more
// artifact would break the tenant's global or per-type count limit.
func (s *QuotaService) VerifyArtifactCount(ctx context.Context, rc *models.RequestContext, typeName string) error {
	t, err := s.registry.Get(typeName)
	if err != nil {
		return err
	}

	globalLimit := s.defaults.MaxArtifactNumber
	typeLimit := t.MaxArtifactNumber

	overrides, err := s.projectQuotas(ctx, rc.TenantID)
	if err != nil {
		return err
	}
	if v, ok := overrides[models.QuotaMaxArtifactNumber]; ok {
		globalLimit = v
	}
	if v, ok := overrides[models.QuotaMaxArtifactNumber+":"+typeName]; ok {
		typeLimit = v
	}

	if globalLimit != models.Unlimited {
		count, err := s.counter.CountArtifacts(ctx, rc.TenantID, "")
		if err != nil {
			return err
		}
		if count >= globalLimit {
			return apperr.Forbidden(
				"can't create artifact because of global quota limit of %d artifacts, you have %d artifact(s)",
				globalLimit, count)
		}
	}

	if typeLimit != models.Unlimited {
		count, err := s.counter.CountArtifacts(ctx, rc.TenantID, typeName)
		if err != nil {
			return err
		}
		if count >= typeLimit {
			return apperr.Forbidden(
				"can't create artifact because of quota limit of %d artifacts for type %q, you have %d artifact(s) of this type",
				typeLimit, typeName, count)
		}
	}
	return nil
}

// VerifyUploadedDataAmount checks byte quotas. With dataAmount set it
// fails with TooLarge when the upload would overflow a limit. With
// dataAmount nil it returns the remaining allowance instead, -1
// meaning unbounded.
func (s *QuotaService) VerifyUploadedDataAmount(ctx context.Context, rc *models.RequestContext, typeName string, dataAmount *int64) (int64, error) {
	t, err := s.registry.Get(typeName)
	if err != nil {
		return 0, err
	}

	globalLimit := s.defaults.MaxUploadedData
	typeLimit := t.MaxUploadedData

	overrides, err := s.projectQuotas(ctx, rc.TenantID)
	if err != nil {
		return 0, err
	}
	if v, ok := overrides[models.QuotaMaxUploadedData]; ok {
		globalLimit = v
	}
	if v, ok := overrides[models.QuotaMaxUploadedData+":"+typeName]; ok {
		typeLimit = v
	}

	res := models.Unlimited

	if globalLimit != models.Unlimited {
		uploaded, err := s.counter.SumUploadedData(ctx, rc.TenantID, "")
		if err != nil {
			return 0, err
		}
		if dataAmount == nil {
			res = globalLimit - uploaded
		} else if uploaded+*dataAmount > globalLimit {
			return 0, apperr.TooLarge(
				"can't upload %d byte(s) because of global quota limit %d, you have %d bytes uploaded",
				*dataAmount, globalLimit, uploaded)
		}
	}

	if typeLimit != models.Unlimited {
		uploaded, err := s.counter.SumUploadedData(ctx, rc.TenantID, typeName)
		if err != nil {
			return 0, err
		}
		if dataAmount == nil {
			available := typeLimit - uploaded
			if res == models.Unlimited || available < res {
				res = available
			}
		} else if uploaded+*dataAmount > typeLimit {
			return 0, apperr.TooLarge(
				"can't upload %d byte(s) because of quota limit %d for type %q, you have %d bytes uploaded for this type",
				*dataAmount, typeLimit, typeName, uploaded)
		}
	}
	return res, nil
}

// SetQuotas replaces project quota overrides. Admin only.
func (s *QuotaService) SetQuotas(ctx context.Context, rc *models.RequestContext, values map[string]map[string]int64) error {
	if err := s.enforcer.Authorize("artifact:set_quotas", nil, subjectFor(rc)); err != nil {
		return err
	}
	if err := s.store.SetQuotas(ctx, values); err != nil {
		return err
	}
	if s.cache != nil {
		for projectID := range values {
			_ = s.cache.Delete(ctx, quotaCacheKey(projectID))
		}
	}
	return nil
}

// ListQuotas lists quota overrides for every project. Admin only.
func (s *QuotaService) ListQuotas(ctx context.Context, rc *models.RequestContext) (map[string]map[string]int64, error) {
	if err := s.enforcer.Authorize("artifact:list_quotas", nil, subjectFor(rc)); err != nil {
		return nil, err
	}
	return s.store.GetAllQuotas(ctx, "")
}

// GetProjectQuotas returns one project's overrides. Admins can ask for
// any project, other callers only for their own.
func (s *QuotaService) GetProjectQuotas(ctx context.Context, rc *models.RequestContext, projectID string) (map[string]int64, error) {
	if projectID != rc.TenantID {
		if err := s.enforcer.Authorize("artifact:list_quotas", nil, subjectFor(rc)); err != nil {
			return nil, err
		}
	}
	return s.projectQuotas(ctx, projectID)
}

// projectQuotas loads one project's overrides through the cache; the
// quota tables are read on every create and upload, so even a short
// TTL takes real load off the database.
func (s *QuotaService) projectQuotas(ctx context.Context, projectID string) (map[string]int64, error) {
	key := quotaCacheKey(projectID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var quotas map[string]int64
			if err := json.Unmarshal(data, &quotas); err == nil {
				return quotas, nil
			}
		}
	}

	all, err := s.store.GetAllQuotas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	quotas := all[projectID]
	if quotas == nil {
		quotas = map[string]int64{}
	}

	if s.cache != nil {
		if data, err := json.Marshal(quotas); err == nil {
			_ = s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}
	return quotas, nil
}

func quotaCacheKey(projectID string) string {
	return "quotas:" + projectID
}
