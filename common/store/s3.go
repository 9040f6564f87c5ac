package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/config"
)

const s3Scheme = "s3://"

// S3Backend stores blob bytes in an S3-compatible object store. Locators
// have the form "s3://<bucket>/<id>".
type S3Backend struct {
	client *minio.Client
	bucket string
}

// NewS3Backend connects to the object store and makes sure the bucket
// exists.
func NewS3Backend(ctx context.Context, cfg config.StoreConfig) (*S3Backend, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.S3Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.S3Bucket, err)
		}
	}

	return &S3Backend{client: client, bucket: cfg.S3Bucket}, nil
}

// Save streams the blob into the bucket under its id.
func (s *S3Backend) Save(ctx context.Context, id string, r io.Reader, maxSize int64) (string, int64, Digests, error) {
	dr := newDigestReader(r, maxSize)

	// Size is unknown up front; minio falls back to multipart streaming.
	_, err := s.client.PutObject(ctx, s.bucket, id, dr, -1, minio.PutObjectOptions{})
	if err != nil {
		// The digest reader's size error surfaces through PutObject.
		if apperr.IsKind(err, apperr.KindTooLarge) {
			s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{})
			return "", 0, Digests{}, err
		}
		return "", 0, Digests{}, fmt.Errorf("put object %s: %w", id, err)
	}

	return s3Scheme + s.bucket + "/" + id, dr.n, dr.digests(), nil
}

// Load opens the stored object for reading.
func (s *S3Backend) Load(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	// GetObject is lazy: probe so a missing object fails here, not at the
	// first Read deep inside a response writer.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperr.NotFound("cannot find blob data at %s", url)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	return obj, nil
}

// Delete removes the stored object.
func (s *S3Backend) Delete(ctx context.Context, url string) error {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func parseS3URL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, s3Scheme)
	if !ok {
		return "", "", apperr.BadRequest("unknown blob locator %q", url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", apperr.BadRequest("unknown blob locator %q", url)
	}
	return bucket, key, nil
}
