package service

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/logger"
	"github.com/openartifacts/registry/common/store"
)

// fakeStore is an in-memory ArtifactStore. GetAll only answers the
// duplicate-scope probe; listing goes through the real repository.
type fakeStore struct {
	mu        sync.Mutex
	artifacts map[string]*models.Artifact
	saved     []*models.ArtifactUpdate

	// duplicates is the total GetAll reports
	duplicates int

	deleted      []string
	deletedBlobs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{artifacts: map[string]*models.Artifact{}}
}

func (f *fakeStore) Create(ctx context.Context, a *models.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[a.ID] = a
	return nil
}

func (f *fakeStore) Save(ctx context.Context, artifactID string, upd *models.ArtifactUpdate) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.artifacts[artifactID]
	if !ok {
		return nil, apperr.ArtifactNotFound(artifactID)
	}
	f.saved = append(f.saved, upd)

	if upd.Name != nil {
		a.Name = *upd.Name
	}
	if upd.Version != nil {
		a.Version = *upd.Version
	}
	if upd.Description != nil {
		a.Description = *upd.Description
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	if upd.Visibility != nil {
		a.Visibility = *upd.Visibility
	}
	if upd.ActivatedAt != nil {
		a.ActivatedAt = upd.ActivatedAt
	}
	if upd.Tags != nil {
		a.Tags = upd.Tags
	}
	for name, value := range upd.Properties {
		if value == nil {
			continue
		}
		a.Properties[name] = value
	}
	for name, blob := range upd.Blobs {
		if blob == nil {
			continue
		}
		a.Blobs[name] = blob
	}
	for name, folder := range upd.Folders {
		for key, blob := range folder {
			if blob == nil {
				continue
			}
			if a.Folders[name] == nil {
				a.Folders[name] = map[string]*models.Blob{}
			}
			a.Folders[name][key] = blob
		}
	}
	return a, nil
}

func (f *fakeStore) Get(ctx context.Context, rc *models.RequestContext, typeName, artifactID string, getAny bool) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.artifacts[artifactID]
	if !ok || a.TypeName != typeName || a.Status == models.StatusDeleted {
		return nil, apperr.ArtifactNotFound(artifactID)
	}
	if !getAny && !a.Readable(rc) {
		return nil, apperr.ArtifactNotFound(artifactID)
	}
	return a, nil
}

func (f *fakeStore) GetAll(ctx context.Context, rc *models.RequestContext, params *models.ListParams) ([]*models.Artifact, int, error) {
	return nil, f.duplicates, nil
}

func (f *fakeStore) Delete(ctx context.Context, artifactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.artifacts[artifactID]
	if !ok {
		return apperr.ArtifactNotFound(artifactID)
	}
	a.Status = models.StatusDeleted
	f.deleted = append(f.deleted, artifactID)
	return nil
}

func (f *fakeStore) DeleteBlob(ctx context.Context, artifactID, name string, keyName *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.artifacts[artifactID]
	if !ok {
		return apperr.ArtifactNotFound(artifactID)
	}
	if keyName != nil {
		if a.Folders[name][*keyName] == nil {
			return apperr.NotFound("blob %s[%s] not found", name, *keyName)
		}
		delete(a.Folders[name], *keyName)
	} else {
		if a.Blobs[name] == nil {
			return apperr.NotFound("blob %s not found", name)
		}
		delete(a.Blobs, name)
	}
	f.deletedBlobs = append(f.deletedBlobs, name)
	return nil
}

// fakeLockBackend tracks held keys in memory.
type fakeLockBackend struct {
	mu      sync.Mutex
	held    map[string]bool
	creates []string
	deletes []string
}

func newFakeLockBackend() *fakeLockBackend {
	return &fakeLockBackend{held: map[string]bool{}}
}

func (f *fakeLockBackend) CreateLock(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return "", apperr.Conflict("cannot lock an item with key %s", key)
	}
	f.held[key] = true
	f.creates = append(f.creates, key)
	return key, nil
}

func (f *fakeLockBackend) DeleteLock(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held[id] {
		return apperr.NotFound("lock with id %s not found", id)
	}
	delete(f.held, id)
	f.deletes = append(f.deletes, id)
	return nil
}

// fakeCounter reports fixed usage numbers.
type fakeCounter struct {
	count int64
	sum   int64
}

func (f *fakeCounter) CountArtifacts(ctx context.Context, owner, typeName string) (int64, error) {
	return f.count, nil
}

func (f *fakeCounter) SumUploadedData(ctx context.Context, owner, typeName string) (int64, error) {
	return f.sum, nil
}

// fakeQuotaStore keeps overrides in memory.
type fakeQuotaStore struct {
	mu     sync.Mutex
	quotas map[string]map[string]int64
}

func newFakeQuotaStore() *fakeQuotaStore {
	return &fakeQuotaStore{quotas: map[string]map[string]int64{}}
}

func (f *fakeQuotaStore) SetQuotas(ctx context.Context, values map[string]map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for project, overrides := range values {
		f.quotas[project] = overrides
	}
	return nil
}

func (f *fakeQuotaStore) GetAllQuotas(ctx context.Context, projectID string) (map[string]map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if projectID == "" {
		return f.quotas, nil
	}
	out := map[string]map[string]int64{}
	if q, ok := f.quotas[projectID]; ok {
		out[projectID] = q
	}
	return out, nil
}

// fakeBlobStore keeps payloads in memory under mem:// locators.
type fakeBlobStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
	failPut bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: map[string][]byte{}}
}

func (f *fakeBlobStore) Save(ctx context.Context, id string, r io.Reader, maxSize int64) (string, int64, store.Digests, error) {
	if f.failPut {
		return "", 0, store.Digests{}, apperr.BadRequest("stream failed")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, store.Digests{}, err
	}
	if maxSize >= 0 && int64(len(data)) > maxSize {
		return "", 0, store.Digests{}, apperr.TooLarge("payload exceeds %d bytes", maxSize)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	url := "mem://" + id
	f.data[url] = data
	return url, int64(len(data)), store.Digests{MD5: "md5", SHA1: "sha1", SHA256: "sha256"}, nil
}

func (f *fakeBlobStore) Load(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[url]
	if !ok {
		return nil, apperr.NotFound("blob data %s not found", url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[url]; !ok {
		return apperr.NotFound("blob data %s not found", url)
	}
	delete(f.data, url)
	f.deleted = append(f.deleted, url)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}
