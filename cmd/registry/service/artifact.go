package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/logger"
	"github.com/openartifacts/registry/common/policy"
	"github.com/openartifacts/registry/common/semver"
	"github.com/openartifacts/registry/common/store"
	"github.com/openartifacts/registry/common/validation"
)

// defaultVersion is assigned when a create request names no version.
const defaultVersion = "0.0.0"

// ArtifactStore is the persistence surface the engine talks to.
type ArtifactStore interface {
	Create(ctx context.Context, a *models.Artifact) error
	Save(ctx context.Context, artifactID string, upd *models.ArtifactUpdate) (*models.Artifact, error)
	Get(ctx context.Context, rc *models.RequestContext, typeName, artifactID string, getAny bool) (*models.Artifact, error)
	GetAll(ctx context.Context, rc *models.RequestContext, params *models.ListParams) ([]*models.Artifact, int, error)
	Delete(ctx context.Context, artifactID string) error
	DeleteBlob(ctx context.Context, artifactID, name string, keyName *string) error
}

// ArtifactService implements the artifact lifecycle: create, list,
// patch updates, status moves and deletion. Writes are serialized
// through artifact-scoped locks.
type ArtifactService struct {
	store     ArtifactStore
	blobStore store.Backend
	registry  *TypeRegistry
	locks     *LockEngine
	quotas    *QuotaService
	enforcer  *policy.Enforcer
	notifier  *Notifier
	log       *logger.Logger
}

// NewArtifactService wires the artifact engine.
func NewArtifactService(st ArtifactStore, blobStore store.Backend, registry *TypeRegistry,
	locks *LockEngine, quotas *QuotaService, enforcer *policy.Enforcer,
	notifier *Notifier, log *logger.Logger) *ArtifactService {
	return &ArtifactService{
		store:     st,
		blobStore: blobStore,
		registry:  registry,
		locks:     locks,
		quotas:    quotas,
		enforcer:  enforcer,
		notifier:  notifier,
		log:       log,
	}
}

// scopeLockKey identifies the (type, name, version) identity scope a
// create or rename claims. Private scopes include the owner so tenants
// never contend with each other.
func scopeLockKey(typeName, name, version, owner string, visibility models.Visibility) string {
	key := fmt.Sprintf("%s:%s:%s", typeName, name, version)
	if visibility != models.VisibilityPublic {
		key += ":" + owner
	}
	return key
}

func updateLockKey(typeName, artifactID string) string {
	return typeName + ":" + artifactID
}

// acquireScopedLock locks an identity scope and verifies no visible
// artifact already occupies it.
func (s *ArtifactService) acquireScopedLock(ctx context.Context, rc *models.RequestContext,
	typeName, name, version, owner string, visibility models.Visibility) (*Lock, error) {
	lock, err := s.locks.Acquire(ctx, scopeLockKey(typeName, name, version, owner, visibility))
	if err != nil {
		return nil, err
	}

	filters := []models.Filter{
		{Field: "name", Op: models.OpEq, Type: models.ValueTypeString, Values: []any{name}},
		{Field: "version", Op: models.OpEq, Type: models.ValueTypeString, Values: []any{version}},
		{Field: "type_name", Op: models.OpEq, Type: models.ValueTypeString, Values: []any{typeName}},
	}
	if visibility == models.VisibilityPublic {
		filters = append(filters, models.Filter{
			Field: "visibility", Op: models.OpEq, Type: models.ValueTypeString,
			Values: []any{string(models.VisibilityPublic)},
		})
	} else {
		filters = append(filters,
			models.Filter{Field: "owner", Op: models.OpEq, Type: models.ValueTypeString, Values: []any{owner}},
			models.Filter{Field: "visibility", Op: models.OpEq, Type: models.ValueTypeString, Values: []any{string(models.VisibilityPrivate)}},
		)
	}

	_, total, err := s.store.GetAll(ctx, rc, &models.ListParams{Filters: filters, ListAll: rc.IsAdmin})
	if err != nil {
		s.locks.Release(ctx, lock)
		return nil, err
	}
	if total > 0 {
		s.locks.Release(ctx, lock)
		return nil, apperr.Conflict(
			"artifact with this name and version already exists for this scope")
	}
	return lock, nil
}

// Create makes a new draft artifact from the submitted field values.
func (s *ArtifactService) Create(ctx context.Context, rc *models.RequestContext, typeName string, values map[string]any) (*models.Artifact, error) {
	if err := s.enforcer.Authorize("artifact:create", nil, subjectFor(rc)); err != nil {
		return nil, err
	}
	t, err := s.registry.Get(typeName)
	if err != nil {
		return nil, err
	}

	name, _ := values["name"].(string)
	if name == "" {
		return nil, apperr.BadRequest("artifact name must be a non-empty string")
	}
	versionRaw := defaultVersion
	if v, ok := values["version"].(string); ok && v != "" {
		versionRaw = v
	}
	version, err := semver.Parse(versionRaw)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	artifact := &models.Artifact{
		ID:              uuid.NewString(),
		TypeName:        typeName,
		DisplayTypeName: t.DisplayName,
		Name:            name,
		Version:         version,
		Status:          models.StatusDrafted,
		Visibility:      models.VisibilityPrivate,
		Owner:           rc.TenantID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Tags:            []string{},
		Properties:      map[string]any{},
		Blobs:           map[string]*models.Blob{},
		Folders:         map[string]map[string]*models.Blob{},
	}

	for field, value := range values {
		switch field {
		case "name", "version":
		case "description":
			desc, ok := value.(string)
			if !ok {
				return nil, apperr.BadRequest("description must be a string")
			}
			artifact.Description = desc
		case "tags":
			tags, err := toTagList(value)
			if err != nil {
				return nil, err
			}
			artifact.Tags = tags
		default:
			if err := validatePropertyValue(t, field, value); err != nil {
				return nil, err
			}
			artifact.Properties[field] = value
		}
	}

	lock, err := s.acquireScopedLock(ctx, rc, typeName, artifact.Name,
		artifact.Version.String(), rc.TenantID, models.VisibilityPrivate)
	if err != nil {
		return nil, err
	}
	defer s.locks.Release(ctx, lock)

	if err := s.quotas.VerifyArtifactCount(ctx, rc, typeName); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, artifact); err != nil {
		return nil, err
	}

	s.log.Info("artifact created",
		"artifact_id", artifact.ID, "type", typeName, "name", name, "version", versionRaw)
	s.notifier.Notify(ctx, "artifact:create", artifact)
	return artifact, nil
}

// Get shows one artifact the caller may read.
func (s *ArtifactService) Get(ctx context.Context, rc *models.RequestContext, typeName, artifactID string) (*models.Artifact, error) {
	if err := s.enforcer.Authorize("artifact:get", nil, subjectFor(rc)); err != nil {
		return nil, err
	}
	getAny := s.enforcer.Check("artifact:list_any", nil, subjectFor(rc))
	return s.store.Get(ctx, rc, typeName, artifactID, getAny)
}

// List returns the page of visible artifacts matching the query plus
// the total match count.
func (s *ArtifactService) List(ctx context.Context, rc *models.RequestContext, typeName string, params *models.ListParams) ([]*models.Artifact, int, error) {
	if err := s.enforcer.Authorize("artifact:list", nil, subjectFor(rc)); err != nil {
		return nil, 0, err
	}
	if _, err := s.registry.Get(typeName); err != nil {
		return nil, 0, err
	}

	params.ListAll = s.enforcer.Check("artifact:list_any", nil, subjectFor(rc))
	params.Filters = append([]models.Filter{{
		Field: "type_name", Op: models.OpEq,
		Type: models.ValueTypeString, Values: []any{typeName},
	}}, params.Filters...)

	return s.store.GetAll(ctx, rc, params)
}

// Update applies a JSON patch to an artifact under its update lock.
// Status and visibility moves ride the same patch surface and get
// their transition rules and policy checks applied per operation.
func (s *ArtifactService) Update(ctx context.Context, rc *models.RequestContext, typeName, artifactID string, patchDoc []byte) (*models.Artifact, error) {
	t, err := s.registry.Get(typeName)
	if err != nil {
		return nil, err
	}

	lock, err := s.locks.Acquire(ctx, updateLockKey(typeName, artifactID))
	if err != nil {
		return nil, err
	}
	defer s.locks.Release(ctx, lock)

	af, err := s.store.Get(ctx, rc, typeName, artifactID, false)
	if err != nil {
		return nil, err
	}
	if err := s.enforcer.Authorize("artifact:update", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
		return nil, err
	}

	upd, actions, err := s.applyPatch(t, af, rc, patchDoc)
	if err != nil {
		return nil, err
	}
	if upd.Empty() {
		return af, nil
	}

	// Changing the identity or the audience claims a fresh scope.
	if upd.Name != nil || upd.Version != nil || upd.Visibility != nil {
		name := af.Name
		if upd.Name != nil {
			name = *upd.Name
		}
		version := af.Version
		if upd.Version != nil {
			version = *upd.Version
		}
		visibility := af.Visibility
		if upd.Visibility != nil {
			visibility = *upd.Visibility
		}

		scopeLock, err := s.acquireScopedLock(ctx, rc, typeName, name,
			version.String(), af.Owner, visibility)
		if err != nil {
			return nil, err
		}
		defer s.locks.Release(ctx, scopeLock)
	}

	saved, err := s.store.Save(ctx, artifactID, upd)
	if err != nil {
		return nil, err
	}

	for _, action := range actions {
		s.notifier.Notify(ctx, "artifact:"+action, saved)
	}
	return saved, nil
}

// applyPatch runs the JSON patch against a flat document view of the
// artifact and converts the resulting differences into a persistable
// update, validating every touched field.
func (s *ArtifactService) applyPatch(t *TypeDescriptor, af *models.Artifact, rc *models.RequestContext, patchDoc []byte) (*models.ArtifactUpdate, []string, error) {
	if err := validation.ValidatePatch(patchDoc); err != nil {
		return nil, nil, err
	}
	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, nil, apperr.BadRequest("malformed json patch: %v", err)
	}

	before := patchView(af)
	beforeDoc, err := json.Marshal(before)
	if err != nil {
		return nil, nil, fmt.Errorf("encode artifact view: %w", err)
	}
	afterDoc, err := patch.Apply(beforeDoc)
	if err != nil {
		return nil, nil, apperr.BadRequest("cannot apply patch: %v", err)
	}

	var after map[string]any
	if err := json.Unmarshal(afterDoc, &after); err != nil {
		return nil, nil, apperr.BadRequest("patch produced an invalid document: %v", err)
	}

	for _, field := range []string{"name", "version", "status", "visibility"} {
		if _, ok := after[field]; !ok {
			return nil, nil, apperr.BadRequest("cannot remove field %q from artifact", field)
		}
	}

	upd := &models.ArtifactUpdate{}
	actions := []string{"update"}

	if name, _ := after["name"].(string); name != af.Name {
		if name == "" {
			return nil, nil, apperr.BadRequest("artifact name must be a non-empty string")
		}
		if err := validateChangeAllowed(t, af, "name"); err != nil {
			return nil, nil, err
		}
		upd.Name = &name
	}

	if raw, _ := after["version"].(string); raw != af.Version.String() {
		if err := validateChangeAllowed(t, af, "version"); err != nil {
			return nil, nil, err
		}
		version, err := semver.Parse(raw)
		if err != nil {
			return nil, nil, err
		}
		upd.Version = &version
	}

	if desc, _ := after["description"].(string); desc != af.Description {
		if err := validateChangeAllowed(t, af, "description"); err != nil {
			return nil, nil, err
		}
		upd.Description = &desc
	}

	if raw, _ := after["status"].(string); raw != string(af.Status) {
		status := models.Status(raw)
		action, err := s.checkStatusChange(t, af, rc, status)
		if err != nil {
			return nil, nil, err
		}
		upd.Status = &status
		actions = append(actions, action)
	}

	if raw, _ := after["visibility"].(string); raw != string(af.Visibility) {
		visibility := models.Visibility(raw)
		if err := validateVisibilityTransition(af, visibility); err != nil {
			return nil, nil, err
		}
		if visibility == models.VisibilityPublic {
			if err := s.enforcer.Authorize("artifact:publish", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
				return nil, nil, err
			}
			actions = append(actions, "publish")
		}
		upd.Visibility = &visibility
	}

	if rawTags, ok := after["tags"]; ok {
		tags, err := toTagList(rawTags)
		if err != nil {
			return nil, nil, err
		}
		if !equalTags(tags, af.Tags) {
			upd.Tags = tags
		}
	}

	props, err := diffPatchedProperties(t, af, after)
	if err != nil {
		return nil, nil, err
	}
	if len(props) > 0 {
		upd.Properties = props
	}

	return upd, actions, nil
}

func (s *ArtifactService) checkStatusChange(t *TypeDescriptor, af *models.Artifact, rc *models.RequestContext, to models.Status) (string, error) {
	if err := validateStatusTransition(af.Status, to); err != nil {
		return "", err
	}

	switch to {
	case models.StatusDeactivated:
		if err := s.enforcer.Authorize("artifact:deactivate", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
			return "", err
		}
		return "deactivate", nil
	case models.StatusActive:
		if af.Status == models.StatusDeactivated {
			if err := s.enforcer.Authorize("artifact:reactivate", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
				return "", err
			}
			return "reactivate", nil
		}
		if err := s.enforcer.Authorize("artifact:activate", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
			return "", err
		}
		if err := validateRequiredOnActivate(t, af); err != nil {
			return "", err
		}
		return "activate", nil
	case models.StatusDeleted:
		return "", apperr.BadRequest("use the delete operation to remove an artifact")
	}
	return "", apperr.BadRequest("unknown status %q", to)
}

// Delete removes an artifact and its blob payloads. The record is kept
// as a terminal tombstone; child rows and store bytes go away.
func (s *ArtifactService) Delete(ctx context.Context, rc *models.RequestContext, typeName, artifactID string) error {
	if _, err := s.registry.Get(typeName); err != nil {
		return err
	}

	lock, err := s.locks.Acquire(ctx, updateLockKey(typeName, artifactID))
	if err != nil {
		return err
	}
	defer s.locks.Release(ctx, lock)

	af, err := s.store.Get(ctx, rc, typeName, artifactID, false)
	if err != nil {
		return err
	}
	if err := s.enforcer.Authorize("artifact:delete", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
		return err
	}
	if af.HasSavingBlob() {
		return apperr.Conflict("you cannot delete artifact with uploading blobs")
	}

	if err := s.store.Delete(ctx, artifactID); err != nil {
		return err
	}

	// Store cleanup runs after the tombstone: a crash here leaks bytes
	// rather than metadata, and missing blobs are already gone.
	for _, blob := range collectInternalBlobs(af) {
		if blob.URL == nil {
			continue
		}
		if err := s.blobStore.Delete(ctx, *blob.URL); err != nil &&
			!apperr.IsKind(err, apperr.KindNotFound) {
			s.log.Error("failed to delete blob data",
				"artifact_id", artifactID, "url", *blob.URL, "error", err)
		}
	}

	s.log.Info("artifact deleted", "artifact_id", artifactID, "type", typeName)
	s.notifier.Notify(ctx, "artifact:delete", af)
	return nil
}

func collectInternalBlobs(af *models.Artifact) []*models.Blob {
	var blobs []*models.Blob
	for _, b := range af.Blobs {
		if b != nil && !b.External {
			blobs = append(blobs, b)
		}
	}
	for _, folder := range af.Folders {
		for _, b := range folder {
			if b != nil && !b.External {
				blobs = append(blobs, b)
			}
		}
	}
	return blobs
}

// patchView flattens an artifact into the document the JSON patch
// operates on: base fields plus properties at the top level.
func patchView(af *models.Artifact) map[string]any {
	doc := map[string]any{
		"id":                af.ID,
		"type_name":         af.TypeName,
		"display_type_name": af.DisplayTypeName,
		"name":              af.Name,
		"version":           af.Version.String(),
		"description":       af.Description,
		"status":            string(af.Status),
		"visibility":        string(af.Visibility),
		"owner":             af.Owner,
		"tags":              af.Tags,
	}
	for name, value := range af.Properties {
		doc[name] = value
	}
	return doc
}

var reservedPatchFields = map[string]bool{
	"id": true, "type_name": true, "display_type_name": true,
	"name": true, "version": true,
	"description": true, "status": true, "visibility": true,
	"owner": true, "tags": true,
	"created_at": true, "updated_at": true, "activated_at": true,
}

// diffPatchedProperties extracts the custom property changes out of
// the patched document.
func diffPatchedProperties(t *TypeDescriptor, af *models.Artifact, after map[string]any) (map[string]any, error) {
	props := map[string]any{}
	for name, value := range after {
		if reservedPatchFields[name] {
			continue
		}
		if t.IsBlob(name) || t.IsBlobFolder(name) {
			return nil, apperr.BadRequest(
				"cannot add blob with this request, use the blob API for that")
		}
		if equalJSON(af.Properties[name], value) {
			continue
		}
		if err := validateChangeAllowed(t, af, name); err != nil {
			return nil, err
		}
		if err := validatePropertyValue(t, name, value); err != nil {
			return nil, err
		}
		props[name] = value
	}
	return props, nil
}

// equalJSON compares two values through their JSON encoding, the
// common denominator between stored properties and patched documents.
func equalJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ab) == string(bb)
}

func toTagList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		tags := make([]string, 0, len(v))
		for _, item := range v {
			tag, ok := item.(string)
			if !ok {
				return nil, apperr.BadRequest("tags must be strings")
			}
			tags = append(tags, tag)
		}
		return tags, nil
	case nil:
		return []string{}, nil
	}
	return nil, apperr.BadRequest("tags must be a list of strings")
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, t := range a {
		seen[t]++
	}
	for _, t := range b {
		seen[t]--
		if seen[t] < 0 {
			return false
		}
	}
	return true
}
