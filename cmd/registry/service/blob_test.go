package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/store"
)

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }

func TestUploadActivatesBlob(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	payload := "disk image bytes"
	saved, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader(payload), "application/octet-stream", int64Ptr(int64(len(payload))))
	require.NoError(t, err)

	blob := saved.Blobs["image"]
	require.NotNil(t, blob)
	assert.Equal(t, models.BlobStatusActive, blob.Status)
	assert.Equal(t, int64(len(payload)), *blob.Size)
	require.NotNil(t, blob.URL)
	assert.Equal(t, []byte(payload), env.blobStore.data[*blob.URL])
	assert.Empty(t, env.lockBack.held)
}

func TestUploadToFolder(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "documents", map[string]any{"name": "report"})

	saved, err := env.blobs.Upload(context.Background(), rc, "documents", af.ID, "pages", strPtr("p1"),
		strings.NewReader("page one"), "text/plain", int64Ptr(8))
	require.NoError(t, err)

	blob := saved.Folders["pages"]["p1"]
	require.NotNil(t, blob)
	assert.Equal(t, models.BlobStatusActive, blob.Status)
}

func TestUploadToNonBlobFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "disk_format", nil,
		strings.NewReader("x"), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestUploadConflictsWithSavingBlob(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{
		ID: "b1", Status: models.BlobStatusSaving,
	}

	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader("x"), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}

func TestUploadOverQuotaRejected(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	env.counter.sum = 90
	env.quotaStore.quotas["a"] = map[string]int64{models.QuotaMaxUploadedData: 100}

	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader("x"), "", int64Ptr(20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.TooLarge("")))
}

func TestFailedUploadRemovesReservedRow(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	env.blobStore.failPut = true

	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader("x"), "", int64Ptr(1))
	require.Error(t, err)

	assert.Nil(t, env.store.artifacts[af.ID].Blobs["image"])
	assert.Empty(t, env.lockBack.held)
}

func TestFailedUploadRestoresPreviousBlob(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	url := "mem://old"
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{
		ID: "b1", URL: &url, Status: models.BlobStatusActive,
	}
	env.blobStore.failPut = true

	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader("x"), "", int64Ptr(1))
	require.Error(t, err)

	blob := env.store.artifacts[af.ID].Blobs["image"]
	require.NotNil(t, blob)
	assert.Equal(t, "b1", blob.ID)
	assert.Equal(t, models.BlobStatusActive, blob.Status)
}

func TestUploadForeignTenantDenied(t *testing.T) {
	env := newTestEnv(t)
	af := env.create(t, tenant("a"), "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Visibility = models.VisibilityPublic

	_, err := env.blobs.Upload(context.Background(), tenant("b"), "images", af.ID, "image", nil,
		strings.NewReader("x"), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestAddLocation(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	saved, err := env.blobs.AddLocation(context.Background(), rc, "images", af.ID, "image", nil,
		"https://mirror.example.com/cirros.img", store.Digests{MD5: "abc"})
	require.NoError(t, err)

	blob := saved.Blobs["image"]
	require.NotNil(t, blob)
	assert.True(t, blob.External)
	assert.Equal(t, models.BlobStatusActive, blob.Status)
	assert.Equal(t, "abc", *blob.MD5)
}

func TestAddLocationOverExistingBlobConflicts(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{
		ID: "b1", Status: models.BlobStatusActive,
	}

	_, err := env.blobs.AddLocation(context.Background(), rc, "images", af.ID, "image", nil,
		"https://mirror.example.com/cirros.img", store.Digests{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}

func TestAddLocationRequiresURL(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, err := env.blobs.AddLocation(context.Background(), rc, "images", af.ID, "image", nil,
		"", store.Digests{})
	assert.Error(t, err)
}

func TestDownloadStoredBlob(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	payload := "image payload"
	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader(payload), "", int64Ptr(int64(len(payload))))
	require.NoError(t, err)

	rd, blob, err := env.blobs.Download(context.Background(), rc, "images", af.ID, "image", nil)
	require.NoError(t, err)
	defer rd.Close()

	data, err := io.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.False(t, blob.External)
}

func TestDownloadExternalBlobReturnsReference(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, err := env.blobs.AddLocation(context.Background(), rc, "images", af.ID, "image", nil,
		"https://mirror.example.com/cirros.img", store.Digests{})
	require.NoError(t, err)

	rd, blob, err := env.blobs.Download(context.Background(), rc, "images", af.ID, "image", nil)
	require.NoError(t, err)
	assert.Nil(t, rd)
	assert.True(t, blob.External)
	assert.Equal(t, "https://mirror.example.com/cirros.img", *blob.URL)
}

func TestDownloadMissingBlob(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, _, err := env.blobs.Download(context.Background(), rc, "images", af.ID, "image", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.NotFound("")))
}

func TestDownloadSavingBlobConflicts(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})
	env.store.artifacts[af.ID].Blobs["image"] = &models.Blob{
		ID: "b1", Status: models.BlobStatusSaving,
	}

	_, _, err := env.blobs.Download(context.Background(), rc, "images", af.ID, "image", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Conflict("")))
}

func TestDeleteExternalBlob(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	_, err := env.blobs.AddLocation(context.Background(), rc, "images", af.ID, "image", nil,
		"https://mirror.example.com/cirros.img", store.Digests{})
	require.NoError(t, err)

	saved, err := env.blobs.DeleteExternal(context.Background(), rc, "images", af.ID, "image", nil)
	require.NoError(t, err)
	assert.Nil(t, saved.Blobs["image"])
}

func TestDeleteInternalBlobForbidden(t *testing.T) {
	env := newTestEnv(t)
	rc := tenant("a")
	af := env.create(t, rc, "images", map[string]any{"name": "cirros"})

	payload := "bytes"
	_, err := env.blobs.Upload(context.Background(), rc, "images", af.ID, "image", nil,
		strings.NewReader(payload), "", int64Ptr(int64(len(payload))))
	require.NoError(t, err)

	_, err = env.blobs.DeleteExternal(context.Background(), rc, "images", af.ID, "image", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}
