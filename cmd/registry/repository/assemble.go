package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/semver"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type propertyRow struct {
	ArtifactID   string
	Name         string
	StringValue  *string
	IntValue     *int64
	NumericValue *float64
	BoolValue    *bool
	Position     *int
	KeyName      *string
}

// value unwraps the single populated typed column.
func (r *propertyRow) value() any {
	switch {
	case r.BoolValue != nil:
		return *r.BoolValue
	case r.IntValue != nil:
		return *r.IntValue
	case r.StringValue != nil:
		return *r.StringValue
	case r.NumericValue != nil:
		return *r.NumericValue
	}
	return nil
}

type blobRow struct {
	ArtifactID string
	Name       string
	KeyName    *string
	Blob       models.Blob
}

// scanArtifact reads one base row in the column order the query
// builder selects.
func scanArtifact(row pgx.Row) (*models.Artifact, error) {
	a := &models.Artifact{}
	var prefix int64
	var suffix, meta *string

	err := row.Scan(&a.ID, &a.TypeName, &a.DisplayTypeName, &a.Name, &prefix, &suffix, &meta,
		&a.Description, &a.Status, &a.Visibility, &a.Owner,
		&a.CreatedAt, &a.UpdatedAt, &a.ActivatedAt)
	if err != nil {
		return nil, err
	}

	a.Version = semver.FromColumns(uint64(prefix), suffix, meta)
	a.Tags = []string{}
	a.Properties = map[string]any{}
	a.Blobs = map[string]*models.Blob{}
	a.Folders = map[string]map[string]*models.Blob{}
	return a, nil
}

// loadChildren fetches tag, property and blob rows for the given
// artifacts in three queries and folds them into the records.
func loadChildren(ctx context.Context, q querier, artifacts []*models.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	byID := make(map[string]*models.Artifact, len(artifacts))
	ids := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT artifact_id, value FROM artifact_tags WHERE artifact_id = ANY($1) ORDER BY value`,
		ids)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	for rows.Next() {
		var artifactID, value string
		if err := rows.Scan(&artifactID, &value); err != nil {
			rows.Close()
			return fmt.Errorf("scan tag: %w", err)
		}
		byID[artifactID].Tags = append(byID[artifactID].Tags, value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load tags: %w", err)
	}

	props, err := loadPropertyRows(ctx, q, ids)
	if err != nil {
		return err
	}
	for artifactID, group := range groupProperties(props) {
		byID[artifactID].Properties = group
	}

	blobs, err := loadBlobRows(ctx, q, ids)
	if err != nil {
		return err
	}
	for _, br := range blobs {
		a := byID[br.ArtifactID]
		blob := br.Blob
		if br.KeyName == nil {
			a.Blobs[br.Name] = &blob
			continue
		}
		if a.Folders[br.Name] == nil {
			a.Folders[br.Name] = map[string]*models.Blob{}
		}
		a.Folders[br.Name][*br.KeyName] = &blob
	}

	return nil
}

func loadPropertyRows(ctx context.Context, q querier, ids []string) ([]propertyRow, error) {
	rows, err := q.Query(ctx, `
		SELECT artifact_id, name, string_value, int_value, numeric_value, bool_value, position, key_name
		FROM artifact_properties
		WHERE artifact_id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	defer rows.Close()

	var out []propertyRow
	for rows.Next() {
		var r propertyRow
		if err := rows.Scan(&r.ArtifactID, &r.Name, &r.StringValue, &r.IntValue,
			&r.NumericValue, &r.BoolValue, &r.Position, &r.KeyName); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	return out, nil
}

func loadBlobRows(ctx context.Context, q querier, ids []string) ([]blobRow, error) {
	rows, err := q.Query(ctx, `
		SELECT artifact_id, name, key_name, id, url, size, md5, sha1, sha256, external, status, content_type
		FROM artifact_blobs
		WHERE artifact_id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("load blobs: %w", err)
	}
	defer rows.Close()

	var out []blobRow
	for rows.Next() {
		var r blobRow
		if err := rows.Scan(&r.ArtifactID, &r.Name, &r.KeyName, &r.Blob.ID,
			&r.Blob.URL, &r.Blob.Size, &r.Blob.MD5, &r.Blob.SHA1, &r.Blob.SHA256,
			&r.Blob.External, &r.Blob.Status, &r.Blob.ContentType); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load blobs: %w", err)
	}
	return out, nil
}

// groupProperties folds attribute rows back into typed values per
// artifact: positioned rows become a list sized to the highest
// position, keyed rows a map, a lone unmarked row the bare scalar.
func groupProperties(rows []propertyRow) map[string]map[string]any {
	grouped := map[string]map[string][]propertyRow{}
	for _, r := range rows {
		if grouped[r.ArtifactID] == nil {
			grouped[r.ArtifactID] = map[string][]propertyRow{}
		}
		grouped[r.ArtifactID][r.Name] = append(grouped[r.ArtifactID][r.Name], r)
	}

	out := map[string]map[string]any{}
	for artifactID, byName := range grouped {
		props := map[string]any{}
		for name, group := range byName {
			props[name] = foldProperty(group)
		}
		out[artifactID] = props
	}
	return out
}

func foldProperty(group []propertyRow) any {
	first := group[0]
	switch {
	case first.Position != nil:
		sort.Slice(group, func(i, j int) bool {
			return *group[i].Position < *group[j].Position
		})
		list := make([]any, *group[len(group)-1].Position+1)
		for i := range group {
			list[*group[i].Position] = group[i].value()
		}
		return list
	case first.KeyName != nil:
		dict := make(map[string]any, len(group))
		for i := range group {
			dict[*group[i].KeyName] = group[i].value()
		}
		return dict
	default:
		return first.value()
	}
}
