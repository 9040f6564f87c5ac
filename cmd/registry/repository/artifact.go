package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/db"
	"github.com/openartifacts/registry/common/logger"
)

// ArtifactRepository handles database operations for artifacts
type ArtifactRepository struct {
	db  *db.DB
	log *logger.Logger
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(database *db.DB, log *logger.Logger) *ArtifactRepository {
	return &ArtifactRepository{db: database, log: log}
}

// Create inserts a new artifact with its tag, property and blob rows.
func (r *ArtifactRepository) Create(ctx context.Context, a *models.Artifact) error {
	return r.db.WithTxRetry(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO artifacts
				(id, type_name, display_type_name, name, version_prefix, version_suffix, version_meta,
				 description, status, visibility, owner, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			a.ID, a.TypeName, a.DisplayTypeName, a.Name,
			int64(a.Version.Prefix), a.Version.SuffixColumn(), a.Version.MetaColumn(),
			a.Description, string(a.Status), string(a.Visibility), a.Owner,
			a.CreatedAt, a.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict("artifact with id %s already exists", a.ID)
			}
			return fmt.Errorf("insert artifact: %w", err)
		}

		if err := saveTags(ctx, tx, a.ID, a.Tags); err != nil {
			return err
		}
		if err := saveProperties(ctx, tx, a.ID, a.Properties); err != nil {
			return err
		}
		if err := saveBlobs(ctx, tx, a.ID, a.Blobs); err != nil {
			return err
		}
		return saveFolders(ctx, tx, a.ID, a.Folders)
	})
}

// Save applies a partial update inside one transaction and returns the
// reassembled artifact. Status changes are refused while any blob is
// still uploading, and the first transition to active stamps
// activated_at.
func (r *ArtifactRepository) Save(ctx context.Context, artifactID string, upd *models.ArtifactUpdate) (*models.Artifact, error) {
	var result *models.Artifact

	err := r.db.WithTxRetry(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT a.id, a.type_name, a.display_type_name, a.name, a.version_prefix, a.version_suffix, a.version_meta,
			       a.description, a.status, a.visibility, a.owner, a.created_at, a.updated_at, a.activated_at
			FROM artifacts a WHERE a.id = $1 FOR UPDATE`,
			artifactID)
		current, err := scanArtifact(row)
		if err != nil {
			if db.IsNoRows(err) {
				return apperr.ArtifactNotFound(artifactID)
			}
			return fmt.Errorf("load artifact %s: %w", artifactID, err)
		}

		if upd.Status != nil && *upd.Status != current.Status {
			var saving bool
			err := tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM artifact_blobs
					WHERE artifact_id = $1 AND status = $2
				)`,
				artifactID, string(models.BlobStatusSaving)).Scan(&saving)
			if err != nil {
				return fmt.Errorf("check uploading blobs: %w", err)
			}
			if saving {
				return apperr.Conflict(
					"you cannot change artifact status if it has uploading blobs")
			}
			if *upd.Status == models.StatusActive && upd.ActivatedAt == nil {
				now := time.Now().UTC()
				upd.ActivatedAt = &now
			}
		}

		if err := r.updateBase(ctx, tx, current, upd); err != nil {
			return err
		}

		if err := saveTags(ctx, tx, artifactID, upd.Tags); err != nil {
			return err
		}
		if upd.Properties != nil {
			if err := saveProperties(ctx, tx, artifactID, upd.Properties); err != nil {
				return err
			}
		}
		if upd.Blobs != nil {
			if err := saveBlobs(ctx, tx, artifactID, upd.Blobs); err != nil {
				return err
			}
		}
		if upd.Folders != nil {
			if err := saveFolders(ctx, tx, artifactID, upd.Folders); err != nil {
				return err
			}
		}

		row = tx.QueryRow(ctx, `
			SELECT a.id, a.type_name, a.display_type_name, a.name, a.version_prefix, a.version_suffix, a.version_meta,
			       a.description, a.status, a.visibility, a.owner, a.created_at, a.updated_at, a.activated_at
			FROM artifacts a WHERE a.id = $1`,
			artifactID)
		result, err = scanArtifact(row)
		if err != nil {
			return fmt.Errorf("reload artifact %s: %w", artifactID, err)
		}
		return loadChildren(ctx, tx, []*models.Artifact{result})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *ArtifactRepository) updateBase(ctx context.Context, tx pgx.Tx, current *models.Artifact, upd *models.ArtifactUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Version != nil {
		add("version_prefix", int64(upd.Version.Prefix))
		add("version_suffix", upd.Version.SuffixColumn())
		add("version_meta", upd.Version.MetaColumn())
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Visibility != nil {
		add("visibility", string(*upd.Visibility))
	}
	if upd.ActivatedAt != nil {
		add("activated_at", *upd.ActivatedAt)
	}

	args = append(args, current.ID)
	query := fmt.Sprintf("UPDATE artifacts SET %s WHERE id = $%d",
		joinSets(sets), len(args))

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update artifact %s: %w", current.ID, err)
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// Get returns one visible artifact with all children assembled.
// typeName narrows the lookup when non-empty; getAny lets admins and
// internal callers bypass the tenancy floor.
func (r *ArtifactRepository) Get(ctx context.Context, rc *models.RequestContext, typeName, artifactID string, getAny bool) (*models.Artifact, error) {
	q := &queryBuilder{}
	q.applyBaseFilters(rc, getAny)
	q.where("a.id = " + q.bind(artifactID))
	if typeName != "" {
		q.where("a.type_name = " + q.bind(typeName))
	}

	row := r.db.QueryRow(ctx, q.SQL(0), q.args...)
	artifact, err := scanArtifact(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ArtifactNotFound(artifactID)
		}
		return nil, fmt.Errorf("get artifact %s: %w", artifactID, err)
	}

	if err := loadChildren(ctx, r.db, []*models.Artifact{artifact}); err != nil {
		return nil, err
	}
	return artifact, nil
}

// GetAll lists visible artifacts with filtering, sorting and keyset
// pagination, plus the total matching count before pagination.
func (r *ArtifactRepository) GetAll(ctx context.Context, rc *models.RequestContext, params *models.ListParams) ([]*models.Artifact, int, error) {
	sortKeys := append(append([]models.SortKey{}, params.Sort...), DefaultSort()...)

	q := &queryBuilder{}
	q.applyBaseFilters(rc, params.ListAll)
	for _, f := range params.Filters {
		if err := q.applyFilter(f); err != nil {
			return nil, 0, err
		}
	}
	if params.Latest {
		q.applyLatestFilter()
	}
	if err := q.applySort(sortKeys); err != nil {
		return nil, 0, err
	}

	total, err := r.countMatching(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	if params.Marker != "" {
		// The marker must itself have been visible; a vanished marker
		// is reported rather than silently restarting the listing.
		marker, err := r.Get(ctx, rc, "", params.Marker, params.ListAll)
		if err != nil {
			return nil, 0, err
		}
		if err := q.applyMarker(sortKeys, marker); err != nil {
			return nil, 0, err
		}
	}

	rows, err := r.db.Query(ctx, q.SQL(params.Limit), q.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list artifacts: %w", err)
	}

	if err := loadChildren(ctx, r.db, artifacts); err != nil {
		return nil, 0, err
	}
	return artifacts, total, nil
}

// countMatching counts rows matching the filters applied so far,
// before pagination narrows the window.
func (r *ArtifactRepository) countMatching(ctx context.Context, q *queryBuilder) (int, error) {
	var sb []byte
	sb = append(sb, "SELECT count(DISTINCT a.id) FROM artifacts a"...)
	for _, j := range q.joins {
		sb = append(sb, ' ')
		sb = append(sb, j...)
	}
	if len(q.conds) > 0 {
		sb = append(sb, " WHERE "...)
		for i, c := range q.conds {
			if i > 0 {
				sb = append(sb, " AND "...)
			}
			sb = append(sb, c...)
		}
	}

	var total int
	if err := r.db.QueryRow(ctx, string(sb), q.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return total, nil
}

// Delete tombstones the base row and clears every child row. The base
// row survives as a terminal record; blob bytes are the caller's to
// clean up beforehand.
func (r *ArtifactRepository) Delete(ctx context.Context, artifactID string) error {
	return r.db.WithTxRetry(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE artifacts SET status = $1, updated_at = $2
			WHERE id = $3 AND status != $1`,
			string(models.StatusDeleted), time.Now().UTC(), artifactID)
		if err != nil {
			return fmt.Errorf("delete artifact %s: %w", artifactID, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.ArtifactNotFound(artifactID)
		}

		for _, table := range []string{"artifact_tags", "artifact_properties", "artifact_blobs"} {
			if _, err := tx.Exec(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE artifact_id = $1", table),
				artifactID); err != nil {
				return fmt.Errorf("clear %s for %s: %w", table, artifactID, err)
			}
		}
		return nil
	})
}

// DeleteBlob removes one blob row (or one folder entry when keyName is
// set). Missing rows are reported so callers can treat retries as
// idempotent.
func (r *ArtifactRepository) DeleteBlob(ctx context.Context, artifactID, name string, keyName *string) error {
	return r.db.RunWithRetry(ctx, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			DELETE FROM artifact_blobs
			WHERE artifact_id = $1 AND name = $2 AND key_name IS NOT DISTINCT FROM $3`,
			artifactID, name, keyName)
		if err != nil {
			return fmt.Errorf("delete blob %q: %w", name, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("blob %q not found for artifact %s", name, artifactID)
		}
		return nil
	})
}

// CountArtifacts returns the number of live artifacts a tenant owns,
// optionally narrowed to one type.
func (r *ArtifactRepository) CountArtifacts(ctx context.Context, owner, typeName string) (int64, error) {
	query := `SELECT count(*) FROM artifacts WHERE owner = $1 AND status != $2`
	args := []any{owner, string(models.StatusDeleted)}
	if typeName != "" {
		query += " AND type_name = $3"
		args = append(args, typeName)
	}

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return count, nil
}

// SumUploadedData returns the total blob bytes a tenant has stored,
// optionally narrowed to one type.
func (r *ArtifactRepository) SumUploadedData(ctx context.Context, owner, typeName string) (int64, error) {
	query := `
		SELECT COALESCE(sum(b.size), 0)
		FROM artifact_blobs b
		JOIN artifacts a ON a.id = b.artifact_id
		WHERE a.owner = $1 AND b.external = false`
	args := []any{owner}
	if typeName != "" {
		query += " AND a.type_name = $2"
		args = append(args, typeName)
	}

	var total int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum uploaded data: %w", err)
	}
	return total, nil
}
