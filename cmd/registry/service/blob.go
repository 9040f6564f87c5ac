package service

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/logger"
	"github.com/openartifacts/registry/common/policy"
	"github.com/openartifacts/registry/common/store"
)

// BlobService moves blob payloads in and out of the store and keeps
// the metadata rows in step. Uploads run in three steps: reserve the
// row under the artifact lock, stream the bytes outside it, then
// finalize the row under the lock again. Holding the lock during the
// transfer would serialize every upload to the artifact.
type BlobService struct {
	store     ArtifactStore
	blobStore store.Backend
	registry  *TypeRegistry
	locks     *LockEngine
	quotas    *QuotaService
	enforcer  *policy.Enforcer
	notifier  *Notifier
	log       *logger.Logger
}

// NewBlobService wires the blob engine.
func NewBlobService(st ArtifactStore, blobStore store.Backend, registry *TypeRegistry,
	locks *LockEngine, quotas *QuotaService, enforcer *policy.Enforcer,
	notifier *Notifier, log *logger.Logger) *BlobService {
	return &BlobService{
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

// blobInfo reads the blob (or folder entry) the field currently holds.
func blobInfo(t *TypeDescriptor, af *models.Artifact, fieldName string, blobKey *string) (*models.Blob, error) {
	if blobKey != nil {
		if !t.IsBlobFolder(fieldName) {
			return nil, apperr.BadRequest("%s is not a blob folder", fieldName)
		}
		return af.Folders[fieldName][*blobKey], nil
	}
	if !t.IsBlob(fieldName) {
		return nil, apperr.BadRequest("%s is not a blob", fieldName)
	}
	return af.Blobs[fieldName], nil
}

// blobUpdate wraps one blob value into the matching update shape.
func blobUpdate(fieldName string, blobKey *string, blob *models.Blob) *models.ArtifactUpdate {
	if blobKey != nil {
		return &models.ArtifactUpdate{
			Folders: map[string]map[string]*models.Blob{
				fieldName: {*blobKey: blob},
			},
		}
	}
	return &models.ArtifactUpdate{
		Blobs: map[string]*models.Blob{fieldName: blob},
	}
}

func blobDisplayName(fieldName string, blobKey *string) string {
	if blobKey != nil {
		return fieldName + "[" + *blobKey + "]"
	}
	return fieldName
}

// allowedSpace computes how many bytes this upload may carry: the
// field's blob limit, the folder's remaining space, and the tenant's
// remaining byte quota. A declared content length over any limit is
// refused outright.
func (s *BlobService) allowedSpace(ctx context.Context, rc *models.RequestContext,
	t *TypeDescriptor, af *models.Artifact, fieldName string, blobKey *string,
	contentLength *int64) (int64, error) {

	maxBlobSize := t.MaxBlobSize(fieldName)

	if blobKey != nil {
		var used int64
		for _, b := range af.Folders[fieldName] {
			used += b.SizeOrZero()
		}
		if available := t.MaxFolderSize(fieldName) - used; available < maxBlobSize {
			maxBlobSize = available
		}
	}

	quotaSize, err := s.quotas.VerifyUploadedDataAmount(ctx, rc, af.TypeName, contentLength)
	if err != nil {
		return 0, err
	}

	if contentLength == nil {
		if quotaSize == models.Unlimited {
			return maxBlobSize, nil
		}
		if quotaSize < maxBlobSize {
			return quotaSize, nil
		}
		return maxBlobSize, nil
	}

	if *contentLength > maxBlobSize {
		return 0, apperr.TooLarge(
			"can't upload %d bytes of data to blob %s, its max allowed size is %d",
			*contentLength, blobDisplayName(fieldName, blobKey), maxBlobSize)
	}
	return *contentLength, nil
}

// Upload streams blob bytes into the store and activates the blob.
func (s *BlobService) Upload(ctx context.Context, rc *models.RequestContext,
	typeName, artifactID, fieldName string, blobKey *string,
	r io.Reader, contentType string, contentLength *int64) (*models.Artifact, error) {

	t, err := s.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	lockKey := updateLockKey(typeName, artifactID)

	// Step 1: reserve the blob row in 'saving' state.
	var (
		blob     *models.Blob
		existing *models.Blob
	)
	err = s.withLock(ctx, lockKey, func(ctx context.Context) error {
		af, err := s.store.Get(ctx, rc, typeName, artifactID, false)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize("artifact:upload", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
			return err
		}

		existing, err = blobInfo(t, af, fieldName, blobKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == models.BlobStatusSaving {
			return apperr.Conflict(
				"blob %s of artifact %s is already being uploaded",
				blobDisplayName(fieldName, blobKey), af.ID)
		}
		if err := validateChangeAllowed(t, af, fieldName); err != nil {
			return err
		}

		size, err := s.allowedSpace(ctx, rc, t, af, fieldName, blobKey, contentLength)
		if err != nil {
			return err
		}

		blob = &models.Blob{
			ID:          uuid.NewString(),
			Size:        &size,
			Status:      models.BlobStatusSaving,
			ContentType: contentType,
		}
		if existing != nil {
			blob.ID = existing.ID
		}

		_, err = s.store.Save(ctx, artifactID, blobUpdate(fieldName, blobKey, blob))
		return err
	})
	if err != nil {
		return nil, err
	}

	// Step 2: stream the bytes outside the lock.
	url, size, digests, uploadErr := s.blobStore.Save(ctx, blob.ID, r, *blob.Size)
	if uploadErr != nil {
		s.restoreAfterFailedUpload(ctx, lockKey, artifactID, fieldName, blobKey, existing)
		return nil, uploadErr
	}

	// Step 3: activate the blob row.
	blob.URL = &url
	blob.Size = &size
	blob.MD5 = &digests.MD5
	blob.SHA1 = &digests.SHA1
	blob.SHA256 = &digests.SHA256
	blob.Status = models.BlobStatusActive

	var saved *models.Artifact
	err = s.withLock(ctx, lockKey, func(ctx context.Context) error {
		saved, err = s.store.Save(ctx, artifactID, blobUpdate(fieldName, blobKey, blob))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("blob uploaded",
		"artifact_id", artifactID, "blob", blobDisplayName(fieldName, blobKey), "size", size)
	s.notifier.Notify(ctx, "artifact:upload", saved)
	return saved, nil
}

// restoreAfterFailedUpload removes the reserved 'saving' row, or puts
// the previous blob back when the upload was replacing one.
func (s *BlobService) restoreAfterFailedUpload(ctx context.Context, lockKey, artifactID, fieldName string, blobKey *string, existing *models.Blob) {
	err := s.withLock(ctx, lockKey, func(ctx context.Context) error {
		if existing == nil {
			return s.store.DeleteBlob(ctx, artifactID, fieldName, blobKey)
		}
		existing.Status = models.BlobStatusActive
		_, err := s.store.Save(ctx, artifactID, blobUpdate(fieldName, blobKey, existing))
		return err
	})
	if err != nil {
		s.log.Error("failed to restore blob state after upload error",
			"artifact_id", artifactID, "blob", blobDisplayName(fieldName, blobKey), "error", err)
	}
}

func (s *BlobService) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer s.locks.Release(ctx, lock)
	return fn(ctx)
}

// AddLocation attaches an externally hosted payload to a blob field.
// The registry never sees the bytes, so only caller-supplied digests
// are recorded.
func (s *BlobService) AddLocation(ctx context.Context, rc *models.RequestContext,
	typeName, artifactID, fieldName string, blobKey *string,
	location string, digests store.Digests) (*models.Artifact, error) {

	t, err := s.registry.Get(typeName)
	if err != nil {
		return nil, err
	}
	if location == "" {
		return nil, apperr.BadRequest("blob location must be a non-empty url")
	}

	var saved *models.Artifact
	err = s.withLock(ctx, updateLockKey(typeName, artifactID), func(ctx context.Context) error {
		af, err := s.store.Get(ctx, rc, typeName, artifactID, false)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize("artifact:set_location", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
			return err
		}

		existing, err := blobInfo(t, af, fieldName, blobKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict("blob %s already exists for artifact %s",
				blobDisplayName(fieldName, blobKey), af.ID)
		}
		if err := validateChangeAllowed(t, af, fieldName); err != nil {
			return err
		}

		blob := &models.Blob{
			ID:          uuid.NewString(),
			URL:         &location,
			External:    true,
			Status:      models.BlobStatusActive,
			ContentType: "application/octet-stream",
		}
		if digests.MD5 != "" {
			blob.MD5 = &digests.MD5
		}
		if digests.SHA1 != "" {
			blob.SHA1 = &digests.SHA1
		}
		if digests.SHA256 != "" {
			blob.SHA256 = &digests.SHA256
		}

		saved, err = s.store.Save(ctx, artifactID, blobUpdate(fieldName, blobKey, blob))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("external location set",
		"artifact_id", artifactID, "blob", blobDisplayName(fieldName, blobKey), "location", location)
	s.notifier.Notify(ctx, "artifact:set_location", saved)
	return saved, nil
}

// Download returns the payload of an active blob. External blobs come
// back with a nil reader; the caller redirects to blob.URL instead.
func (s *BlobService) Download(ctx context.Context, rc *models.RequestContext,
	typeName, artifactID, fieldName string, blobKey *string) (io.ReadCloser, *models.Blob, error) {

	t, err := s.registry.Get(typeName)
	if err != nil {
		return nil, nil, err
	}

	getAny := s.enforcer.Check("artifact:list_any", nil, subjectFor(rc))
	af, err := s.store.Get(ctx, rc, typeName, artifactID, getAny)
	if err != nil {
		return nil, nil, err
	}
	if err := s.enforcer.Authorize("artifact:download", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
		return nil, nil, err
	}

	blob, err := blobInfo(t, af, fieldName, blobKey)
	if err != nil {
		return nil, nil, err
	}
	if blob == nil {
		return nil, nil, apperr.NotFound("no data found for blob %s",
			blobDisplayName(fieldName, blobKey))
	}
	if blob.Status != models.BlobStatusActive {
		return nil, nil, apperr.Conflict("%s is not ready for download",
			blobDisplayName(fieldName, blobKey))
	}

	if blob.External {
		return nil, blob, nil
	}
	if blob.URL == nil {
		return nil, nil, apperr.NotFound("no data found for blob %s",
			blobDisplayName(fieldName, blobKey))
	}

	rd, err := s.blobStore.Load(ctx, *blob.URL)
	if err != nil {
		return nil, nil, err
	}
	return rd, blob, nil
}

// DeleteExternal detaches an external blob. Internal blobs carry
// stored bytes and only go away with their artifact.
func (s *BlobService) DeleteExternal(ctx context.Context, rc *models.RequestContext,
	typeName, artifactID, fieldName string, blobKey *string) (*models.Artifact, error) {

	t, err := s.registry.Get(typeName)
	if err != nil {
		return nil, err
	}

	var saved *models.Artifact
	err = s.withLock(ctx, updateLockKey(typeName, artifactID), func(ctx context.Context) error {
		af, err := s.store.Get(ctx, rc, typeName, artifactID, false)
		if err != nil {
			return err
		}
		if err := s.enforcer.Authorize("artifact:delete_blob", rc.PolicyView(af.Owner), subjectFor(rc)); err != nil {
			return err
		}

		blob, err := blobInfo(t, af, fieldName, blobKey)
		if err != nil {
			return err
		}
		if blob == nil {
			return apperr.NotFound("blob %s wasn't found for artifact %s",
				blobDisplayName(fieldName, blobKey), af.ID)
		}
		if !blob.External {
			return apperr.Forbidden("blob %s is not external",
				blobDisplayName(fieldName, blobKey))
		}

		if err := s.store.DeleteBlob(ctx, artifactID, fieldName, blobKey); err != nil {
			return err
		}
		saved, err = s.store.Get(ctx, rc, typeName, artifactID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, "artifact:delete_blob", saved)
	return saved, nil
}
