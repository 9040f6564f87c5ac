package repository

import (
	"fmt"
	"strings"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

// applyMarker builds the keyset "strictly after the marker" predicate:
// one clause per sort key position, each requiring equality on all
// earlier keys and a strict inequality on its own, OR-ed together.
// Offset pagination would skip or duplicate rows under concurrent
// writes; comparing against the marker's own values does not.
func (q *queryBuilder) applyMarker(keys []models.SortKey, marker *models.Artifact) error {
	clauses := make([]string, 0, len(keys))

	for i := range keys {
		parts := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			cond, err := q.markerCond(&keys[j], marker, true)
			if err != nil {
				return err
			}
			parts = append(parts, cond)
		}
		cond, err := q.markerCond(&keys[i], marker, false)
		if err != nil {
			return err
		}
		parts = append(parts, cond)
		clauses = append(clauses, "("+strings.Join(parts, " AND ")+")")
	}

	if len(clauses) > 0 {
		q.where("(" + strings.Join(clauses, " OR ") + ")")
	}
	return nil
}

// markerCond emits one comparison against the marker's value for a
// sort key: equality when eq is set, otherwise the strict inequality
// matching the key's direction.
func (q *queryBuilder) markerCond(key *models.SortKey, marker *models.Artifact, eq bool) (string, error) {
	if key.Field == "version" {
		if eq {
			return q.versionEquals(marker.Version), nil
		}
		op := models.OpGt
		if key.Direction == models.SortDesc {
			op = models.OpLt
		}
		return q.versionCompare(op, marker.Version)
	}

	op := ">"
	if key.Direction == models.SortDesc {
		op = "<"
	}
	if eq {
		op = "="
	}

	if col, ok := baseColumns[key.Field]; ok {
		value, err := markerBaseValue(key.Field, marker)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", col, op, q.bind(value)), nil
	}

	// Custom property keys compare through the sort join alias; the
	// single-property limit guarantees it exists.
	if q.propSortKey == nil || q.propSortKey.Field != key.Field {
		return "", apperr.BadRequest("cannot paginate on unsorted property %q", key.Field)
	}
	col := typedColumns[key.Type]
	if col == "" {
		col = typedColumns[models.ValueTypeString]
	}
	return fmt.Sprintf("sp.%s %s %s", col, op, q.bind(marker.Properties[key.Field])), nil
}

func markerBaseValue(field string, marker *models.Artifact) (any, error) {
	switch field {
	case "id":
		return marker.ID, nil
	case "type_name":
		return marker.TypeName, nil
	case "name":
		return marker.Name, nil
	case "description":
		return marker.Description, nil
	case "status":
		return string(marker.Status), nil
	case "visibility":
		return string(marker.Visibility), nil
	case "owner":
		return marker.Owner, nil
	case "created_at":
		return marker.CreatedAt, nil
	case "updated_at":
		return marker.UpdatedAt, nil
	case "activated_at":
		return marker.ActivatedAt, nil
	}
	return nil, apperr.BadRequest("unknown marker field %q", field)
}
