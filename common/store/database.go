package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/db"
)

const sqlScheme = "sql://"

// DatabaseBackend stores blob bytes in the blob_data table. Locators have
// the form "sql://<id>". Suitable for small deployments that want a single
// stateful dependency.
type DatabaseBackend struct {
	db *db.DB
}

// NewDatabaseBackend creates a database-backed blob store.
func NewDatabaseBackend(database *db.DB) *DatabaseBackend {
	return &DatabaseBackend{db: database}
}

// Save buffers the stream (bounded by maxSize) and writes it as one row.
func (s *DatabaseBackend) Save(ctx context.Context, id string, r io.Reader, maxSize int64) (string, int64, Digests, error) {
	dr := newDigestReader(r, maxSize)

	data, err := io.ReadAll(dr)
	if err != nil {
		return "", 0, Digests{}, err
	}

	err = s.db.RunWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx,
			`INSERT INTO blob_data (id, data) VALUES ($1, $2)`, id, data)
		return err
	})
	if err != nil {
		return "", 0, Digests{}, fmt.Errorf("save blob data %s: %w", id, err)
	}

	return sqlScheme + id, dr.n, dr.digests(), nil
}

// Load streams a previously saved blob back out.
func (s *DatabaseBackend) Load(ctx context.Context, url string) (io.ReadCloser, error) {
	id, ok := strings.CutPrefix(url, sqlScheme)
	if !ok {
		return nil, apperr.BadRequest("unknown blob locator %q", url)
	}

	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM blob_data WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("cannot find blob data with id %s", id)
		}
		return nil, fmt.Errorf("load blob data %s: %w", id, err)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the blob row. Deleting an absent blob is not an error.
func (s *DatabaseBackend) Delete(ctx context.Context, url string) error {
	id, ok := strings.CutPrefix(url, sqlScheme)
	if !ok {
		return apperr.BadRequest("unknown blob locator %q", url)
	}

	return s.db.RunWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `DELETE FROM blob_data WHERE id = $1`, id)
		return err
	})
}
