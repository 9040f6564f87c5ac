package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

// The child-row writers below implement partial updates: rows whose
// name is absent from the incoming map are never touched, a nil value
// skips its name, lists upsert element rows per position without
// trimming, dicts upsert per key. Callers that want rows gone must ask
// for that explicitly.

// saveTags replaces the whole tag set, reusing rows that survive.
func saveTags(ctx context.Context, tx pgx.Tx, artifactID string, tags []string) error {
	if tags == nil {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM artifact_tags WHERE artifact_id = $1 AND value != ALL($2)`,
		artifactID, tags); err != nil {
		return fmt.Errorf("prune tags: %w", err)
	}

	for _, tag := range tags {
		_, err := tx.Exec(ctx, `
			INSERT INTO artifact_tags (id, artifact_id, value)
			SELECT $1, $2, $3
			WHERE NOT EXISTS (
				SELECT 1 FROM artifact_tags WHERE artifact_id = $2 AND value = $3
			)`,
			uuid.NewString(), artifactID, tag)
		if err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	return nil
}

// propShape summarizes the structure the existing rows of one name
// already have. A name must stay homogeneous: all positioned, all
// keyed, or a single scalar.
type propShape struct {
	total      int
	positioned int
	keyed      int
}

func (s propShape) scalar() bool { return s.total > 0 && s.positioned == 0 && s.keyed == 0 }

func loadPropShape(ctx context.Context, tx pgx.Tx, artifactID, name string) (propShape, error) {
	var s propShape
	err := tx.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE position IS NOT NULL),
		       count(*) FILTER (WHERE key_name IS NOT NULL)
		FROM artifact_properties
		WHERE artifact_id = $1 AND name = $2`,
		artifactID, name).Scan(&s.total, &s.positioned, &s.keyed)
	if err != nil {
		return s, fmt.Errorf("load property shape for %q: %w", name, err)
	}
	return s, nil
}

func saveProperties(ctx context.Context, tx pgx.Tx, artifactID string, props map[string]any) error {
	for name, value := range props {
		if value == nil {
			continue
		}

		shape, err := loadPropShape(ctx, tx, artifactID, name)
		if err != nil {
			return err
		}

		switch v := value.(type) {
		case []any:
			if shape.keyed > 0 || shape.scalar() {
				return apperr.BadRequest(
					"property %q already holds a non-list value", name)
			}
			for pos, elem := range v {
				p := pos
				if err := upsertProperty(ctx, tx, artifactID, name, elem, &p, nil); err != nil {
					return err
				}
			}
		case map[string]any:
			if shape.positioned > 0 || shape.scalar() {
				return apperr.BadRequest(
					"property %q already holds a non-dict value", name)
			}
			for key, elem := range v {
				k := key
				if err := upsertProperty(ctx, tx, artifactID, name, elem, nil, &k); err != nil {
					return err
				}
			}
		default:
			if shape.positioned > 0 || shape.keyed > 0 {
				return apperr.BadRequest(
					"property %q already holds a collection value", name)
			}
			if err := upsertProperty(ctx, tx, artifactID, name, value, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// upsertProperty writes one attribute row, updating in place when a
// row with the same (name, position, key_name) coordinates exists.
func upsertProperty(ctx context.Context, tx pgx.Tx, artifactID, name string, value any, position *int, keyName *string) error {
	sv, iv, nv, bv, err := propColumns(value)
	if err != nil {
		return apperr.BadRequest("property %q: %v", name, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE artifact_properties
		SET string_value = $1, int_value = $2, numeric_value = $3, bool_value = $4
		WHERE artifact_id = $5 AND name = $6
		  AND position IS NOT DISTINCT FROM $7
		  AND key_name IS NOT DISTINCT FROM $8`,
		sv, iv, nv, bv, artifactID, name, position, keyName)
	if err != nil {
		return fmt.Errorf("update property %q: %w", name, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO artifact_properties
			(id, artifact_id, name, string_value, int_value, numeric_value, bool_value, position, key_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), artifactID, name, sv, iv, nv, bv, position, keyName)
	if err != nil {
		return fmt.Errorf("insert property %q: %w", name, err)
	}
	return nil
}

// propColumns dispatches a scalar into exactly one typed column.
// Booleans are checked before integers and integers before floats
// because weakly typed inputs blur those kinds together.
func propColumns(value any) (sv *string, iv *int64, nv *float64, bv *bool, err error) {
	switch v := value.(type) {
	case bool:
		bv = &v
	case int:
		n := int64(v)
		iv = &n
	case int32:
		n := int64(v)
		iv = &n
	case int64:
		iv = &v
	case string:
		sv = &v
	case float32:
		iv, nv = numberColumns(float64(v))
	case float64:
		iv, nv = numberColumns(v)
	case json.Number:
		if n, convErr := v.Int64(); convErr == nil {
			iv = &n
			return
		}
		f, convErr := v.Float64()
		if convErr != nil {
			err = fmt.Errorf("unsupported numeric value %q", v.String())
			return
		}
		nv = &f
	default:
		err = fmt.Errorf("unsupported value type %T", value)
	}
	return
}

// numberColumns routes a float to the integer column when it carries a
// whole value. encoding/json decodes every JSON number as float64, so
// integral values must land where integer-typed filters and sorts look
// for them.
func numberColumns(f float64) (*int64, *float64) {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		n := int64(f)
		return &n, nil
	}
	return nil, &f
}

func saveBlobs(ctx context.Context, tx pgx.Tx, artifactID string, blobs map[string]*models.Blob) error {
	for name, blob := range blobs {
		if blob == nil {
			continue
		}
		if err := upsertBlob(ctx, tx, artifactID, name, nil, blob); err != nil {
			return err
		}
	}
	return nil
}

func saveFolders(ctx context.Context, tx pgx.Tx, artifactID string, folders map[string]map[string]*models.Blob) error {
	for name, folder := range folders {
		for key, blob := range folder {
			if blob == nil {
				continue
			}
			k := key
			if err := upsertBlob(ctx, tx, artifactID, name, &k, blob); err != nil {
				return err
			}
		}
	}
	return nil
}

func upsertBlob(ctx context.Context, tx pgx.Tx, artifactID, name string, keyName *string, blob *models.Blob) error {
	if blob.ID == "" {
		blob.ID = uuid.NewString()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE artifact_blobs
		SET id = $1, url = $2, size = $3, md5 = $4, sha1 = $5, sha256 = $6,
		    external = $7, status = $8, content_type = $9
		WHERE artifact_id = $10 AND name = $11 AND key_name IS NOT DISTINCT FROM $12`,
		blob.ID, blob.URL, blob.Size, blob.MD5, blob.SHA1, blob.SHA256,
		blob.External, string(blob.Status), blob.ContentType,
		artifactID, name, keyName)
	if err != nil {
		return fmt.Errorf("update blob %q: %w", name, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO artifact_blobs
			(id, artifact_id, name, key_name, url, size, md5, sha1, sha256, external, status, content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		blob.ID, artifactID, name, keyName, blob.URL, blob.Size,
		blob.MD5, blob.SHA1, blob.SHA256, blob.External,
		string(blob.Status), blob.ContentType)
	if err != nil {
		return fmt.Errorf("insert blob %q: %w", name, err)
	}
	return nil
}
