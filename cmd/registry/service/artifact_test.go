package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/config"
	"github.com/openartifacts/registry/common/policy"
)

type testEnv struct {
	store      *fakeStore
	lockBack   *fakeLockBackend
	counter    *fakeCounter
	quotaStore *fakeQuotaStore
	blobStore  *fakeBlobStore
	registry   *TypeRegistry
	quotas     *QuotaService
	artifacts  *ArtifactService
	blobs      *BlobService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := testLogger()
	enforcer, err := policy.NewEnforcer(nil)
	require.NoError(t, err)
	registry, err := NewTypeRegistry(DefaultTypes()...)
	require.NoError(t, err)

	env := &testEnv{
		store:      newFakeStore(),
		lockBack:   newFakeLockBackend(),
		counter:    &fakeCounter{},
		quotaStore: newFakeQuotaStore(),
		blobStore:  newFakeBlobStore(),
		registry:   registry,
	}

	env.quotas = NewQuotaService(env.counter, env.quotaStore, registry, enforcer,
		nil, 0, config.QuotaConfig{
			MaxArtifactNumber: models.Unlimited,
			MaxUploadedData:   models.Unlimited,
		}, log)

	locks := NewLockEngine(env.lockBack, log)
	notifier := NewNotifier(nil, log)

	env.artifacts = NewArtifactService(env.store, env.blobStore, registry,
		locks, env.quotas, enforcer, notifier, log)
	env.blobs = NewBlobService(env.store, env.blobStore, registry,
		locks, env.quotas, enforcer, notifier, log)
	return env
}

func tenant(id string) *models.RequestContext {
	return &models.RequestContext{TenantID: id}
}

func (e *testEnv) create(t *testing.T, rc *models.RequestContext, typeName string, values map[string]any) *models.Artifact {
	t.Helper()
	af, err := e.artifacts.Create(context.Background(), rc, typeName, values)
	require.NoError(t, err)
	return af
}

func TestCreateDraftDefaults(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("tenant-a")

	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	assert.NotEmpty(t, af.ID)
	assert.Equal(t, models.StatusDrafted, af.Status)
	assert.Equal(t, models.VisibilityPrivate, af.Visibility)
	assert.Equal(t, "tenant-a", af.Owner)
	assert.Equal(t, "0.0.0", af.Version.String())
}

func TestCreateStampsDisplayTypeName(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("tenant-a")

	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	assert.Equal(t, "Machine Images", af.DisplayTypeName)

	// the stamp is system owned; patching it is silently ignored
	patch := []byte(`[{"op": "replace", "path": "/display_type_name", "value": "Renamed"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.NoError(t, err)
	assert.Empty(t, env.store.saved)
}

func TestCreateWithFields(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("tenant-a")

	af := env.create(t, rc, "images", map[string]any{
		"name":        "cirros",
		"version":     "1.2.3-beta",
		"description": "test image",
		"tags":        []any{"tiny", "qa"},
		"disk_format": "qcow2",
		"min_ram":     512,
	})

	assert.Equal(t, "1.2.3-beta", af.Version.String())
	assert.Equal(t, "test image", af.Description)
	assert.Equal(t, []string{"tiny", "qa"}, af.Tags)
	assert.Equal(t, "qcow2", af.Properties["disk_format"])
}

func TestCreateRequiresName(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.artifacts.Create(context.Background(), tenant("a"), "images", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestCreateRejectsBadVersion(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.artifacts.Create(context.Background(), tenant("a"), "images",
		map[string]any{"name": "x", "version": "not-semver"})
	assert.Error(t, err)
}

func TestCreateUnknownType(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.artifacts.Create(context.Background(), tenant("a"), "nope",
		map[string]any{"name": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.NotFound("")))
}

func TestCreateRejectsBlobFieldValue(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.artifacts.Create(context.Background(), tenant("a"), "images",
		map[string]any{"name": "x", "image": "raw-bytes"})
	assert.Error(t, err)
}

func TestCreateDuplicateScopeConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.store.duplicates = 1

	_, err := env.artifacts.Create(context.Background(), tenant("a"), "images",
		map[string]any{"name": "cirros"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}

func TestCreateReleasesScopeLock(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, tenant("a"), "images", map[string]any{"name": "cirros"})

	assert.Empty(t, env.lockBack.held)
	assert.NotEmpty(t, env.lockBack.creates)
}

func TestCreateEnforcesArtifactQuota(t *testing.T) {
	env := newTestEnv(t)
	env.counter.count = 2
	env.quotaStore.quotas["a"] = map[string]int64{models.QuotaMaxArtifactNumber: 2}

	_, err := env.artifacts.Create(context.Background(), tenant("a"), "images",
		map[string]any{"name": "cirros"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestReadOnlyTenantCannotCreate(t *testing.T) {
	env := newTestEnv(t)
	rc := &models.RequestContext{TenantID: "a", ReadOnly: true}

	_, err := env.artifacts.Create(context.Background(), rc, "images",
		map[string]any{"name": "cirros"})
	assert.Error(t, err)
}

func TestGetHidesForeignPrivateArtifact(t *testing.T) {
	env := newTestEnv(t)
	af := env.create(t, tenant("a"), "images", map[string]any{"name": "cirros"})

	_, err := env.artifacts.Get(context.Background(), tenant("b"), "images", af.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.NotFound("")))
}

func TestAdminSeesForeignArtifact(t *testing.T) {
	env := newTestEnv(t)
	af := env.create(t, tenant("a"), "images", map[string]any{"name": "cirros"})

	admin := &models.RequestContext{TenantID: "ops", IsAdmin: true}
	got, err := env.artifacts.Get(context.Background(), admin, "images", af.ID)
	require.NoError(t, err)
	assert.Equal(t, af.ID, got.ID)
}

func TestUpdatePatchesProperties(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	patch := []byte(`[
		{"op": "add", "path": "/disk_format", "value": "qcow2"},
		{"op": "replace", "path": "/description", "value": "edited"}
	]`)
	saved, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.NoError(t, err)

	assert.Equal(t, "qcow2", saved.Properties["disk_format"])
	assert.Equal(t, "edited", saved.Description)
}

func TestUpdateRejectsMalformedPatch(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, []byte(`{"not": "a patch"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestUpdateRejectsRemovingName(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	patch := []byte(`[{"op": "remove", "path": "/name"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	assert.Error(t, err)
}

func TestUpdateForeignTenantDenied(t *testing.T) {
	env := newTestEnv(t)
	af := env.create(t, tenant("a"), "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Visibility = models.VisibilityPublic

	patch := []byte(`[{"op": "replace", "path": "/description", "value": "x"}]`)
	_, err := env.artifacts.Update(context.Background(), tenant("b"), "images", af.ID, patch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestActivationRequiresRequiredFields(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	patch := []byte(`[{"op": "replace", "path": "/status", "value": "active"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestActivationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{Status: models.BlobStatusActive}

	activate := []byte(`[{"op": "replace", "path": "/status", "value": "active"}]`)
	saved, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, activate)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, saved.Status)

	// suspending and restoring an artifact is an operator action
	deactivate := []byte(`[{"op": "replace", "path": "/status", "value": "deactivated"}]`)
	_, err = env.artifacts.Update(context.Background(), rc, "images", af.ID, deactivate)
	require.Error(t, err)

	admin := &models.RequestContext{TenantID: "ops", IsAdmin: true}
	saved, err = env.artifacts.Update(context.Background(), admin, "images", af.ID, deactivate)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeactivated, saved.Status)

	reactivate := []byte(`[{"op": "replace", "path": "/status", "value": "active"}]`)
	saved, err = env.artifacts.Update(context.Background(), admin, "images", af.ID, reactivate)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, saved.Status)
}

func TestStatusCannotJumpToDeleted(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	patch := []byte(`[{"op": "replace", "path": "/status", "value": "deleted"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestPublishOnlyWhileActive(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	publish := []byte(`[{"op": "replace", "path": "/visibility", "value": "public"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, publish)
	require.Error(t, err)

	env.store.artifacts[af.ID].Status = models.StatusActive
	saved, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, publish)
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, saved.Visibility)
}

func TestImmutableFieldFrozenAfterActivation(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros", "disk_format": "raw"})
	env.store.artifacts[af.ID].Status = models.StatusActive

	patch := []byte(`[{"op": "replace", "path": "/disk_format", "value": "qcow2"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))

	// mutable fields stay editable
	patch = []byte(`[{"op": "add", "path": "/min_ram", "value": 512}]`)
	_, err = env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	assert.NoError(t, err)
}

func TestRenameClaimsNewScope(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	env.store.duplicates = 1
	patch := []byte(`[{"op": "replace", "path": "/name", "value": "cirros-2"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}

func TestNoopPatchSavesNothing(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros", "disk_format": "raw"})

	patch := []byte(`[{"op": "replace", "path": "/disk_format", "value": "raw"}]`)
	_, err := env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.NoError(t, err)
	assert.Empty(t, env.store.saved)
}

func TestDeleteTombstonesAndCleansBlobs(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	url := "mem://payload"
	env.blobStore.data[url] = []byte("bytes")
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{
		Status: models.BlobStatusActive, URL: &url,
	}

	err := env.artifacts.Delete(context.Background(), rc, "images", af.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{af.ID}, env.store.deleted)
	assert.Equal(t, []string{url}, env.blobStore.deleted)
}

func TestDeleteBlockedWhileBlobSaving(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{Status: models.BlobStatusSaving}

	err := env.artifacts.Delete(context.Background(), rc, "images", af.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}

func TestDeleteForeignTenantDenied(t *testing.T) {
	env := newTestEnv(t)
	af := env.create(t, tenant("a"), "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Visibility = models.VisibilityPublic

	err := env.artifacts.Delete(context.Background(), tenant("b"), "images", af.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestUpdateLockConflict(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, err := env.lockBack.CreateLock(context.Background(), updateLockKey("images", af.ID))
	require.NoError(t, err)

	patch := []byte(`[{"op": "replace", "path": "/description", "value": "x"}]`)
	_, err = env.artifacts.Update(context.Background(), rc, "images", af.ID, patch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}
