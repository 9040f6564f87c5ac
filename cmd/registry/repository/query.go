package repository

import (
	"fmt"
	"strings"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/semver"
)

// baseColumns whitelists the filterable and sortable base fields. Any
// field name outside this map is treated as a custom property.
var baseColumns = map[string]string{
	"id":           "a.id",
	"type_name":    "a.type_name",
	"name":         "a.name",
	"description":  "a.description",
	"status":       "a.status",
	"visibility":   "a.visibility",
	"owner":        "a.owner",
	"created_at":   "a.created_at",
	"updated_at":   "a.updated_at",
	"activated_at": "a.activated_at",
}

var typedColumns = map[models.ValueType]string{
	models.ValueTypeString:  "string_value",
	models.ValueTypeInt:     "int_value",
	models.ValueTypeNumeric: "numeric_value",
	models.ValueTypeBool:    "bool_value",
}

var sqlOps = map[models.FilterOp]string{
	models.OpEq:  "=",
	models.OpNeq: "!=",
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

// queryBuilder accumulates the pieces of one artifacts query. All
// predicates reference the base table through alias "a"; the single
// allowed property sort key joins through alias "sp".
type queryBuilder struct {
	joins   []string
	conds   []string
	orderBy []string
	args    []any

	propSortKey *models.SortKey
}

func (q *queryBuilder) bind(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *queryBuilder) where(cond string) {
	q.conds = append(q.conds, cond)
}

// applyBaseFilters adds the tenancy floor every query runs beneath.
// Deleted artifacts never surface; admins (and explicit list-all) see
// everything else, anonymous callers only public artifacts.
func (q *queryBuilder) applyBaseFilters(rc *models.RequestContext, listAll bool) {
	q.where("a.status != " + q.bind(string(models.StatusDeleted)))

	if rc != nil && (rc.IsAdmin || listAll) {
		return
	}
	if rc != nil && rc.TenantID != "" {
		q.where(fmt.Sprintf("(a.owner = %s OR a.visibility = %s)",
			q.bind(rc.TenantID), q.bind(string(models.VisibilityPublic))))
		return
	}
	q.where("a.visibility = " + q.bind(string(models.VisibilityPublic)))
}

// applyFilter compiles one parsed filter into a predicate.
func (q *queryBuilder) applyFilter(f models.Filter) error {
	switch f.Field {
	case "tags":
		// every listed tag must be present
		for _, v := range f.Values {
			q.where(fmt.Sprintf(
				"EXISTS (SELECT 1 FROM artifact_tags t WHERE t.artifact_id = a.id AND t.value = %s)",
				q.bind(v)))
		}
		return nil
	case "tags-any":
		// at least one listed tag must be present
		q.where(fmt.Sprintf(
			"EXISTS (SELECT 1 FROM artifact_tags t WHERE t.artifact_id = a.id AND t.value = ANY(%s))",
			q.bind(anyStrings(f.Values))))
		return nil
	case "version":
		return q.applyVersionFilter(f)
	}

	if col, ok := baseColumns[f.Field]; ok {
		return q.applyBaseFilter(col, f)
	}
	return q.applyPropertyFilter(f)
}

func (q *queryBuilder) applyBaseFilter(col string, f models.Filter) error {
	if f.Op == models.OpIn {
		q.where(fmt.Sprintf("%s = ANY(%s)", col, q.bind(anyStrings(f.Values))))
		return nil
	}
	op, ok := sqlOps[f.Op]
	if !ok {
		return apperr.InvalidFilter("unknown operator %q", f.Op)
	}
	if len(f.Values) != 1 {
		return apperr.InvalidFilter("operator %q takes exactly one value", f.Op)
	}
	q.where(fmt.Sprintf("%s %s %s", col, op, q.bind(f.Values[0])))
	return nil
}

// applyVersionFilter parses the values through the version codec and
// compares against the decomposed (prefix, suffix) columns. A NULL
// suffix is a final release and sorts after any pre-release suffix.
func (q *queryBuilder) applyVersionFilter(f models.Filter) error {
	if f.Op == models.OpIn {
		clauses := make([]string, 0, len(f.Values))
		for _, raw := range f.Values {
			v, err := parseVersionValue(raw)
			if err != nil {
				return err
			}
			clauses = append(clauses, q.versionEquals(v))
		}
		if len(clauses) == 0 {
			return apperr.InvalidFilter("version filter needs at least one value")
		}
		q.where("(" + strings.Join(clauses, " OR ") + ")")
		return nil
	}

	if len(f.Values) != 1 {
		return apperr.InvalidFilter("operator %q takes exactly one value", f.Op)
	}
	v, err := parseVersionValue(f.Values[0])
	if err != nil {
		return err
	}

	cond, err := q.versionCompare(f.Op, v)
	if err != nil {
		return err
	}
	q.where(cond)
	return nil
}

func (q *queryBuilder) versionEquals(v semver.Version) string {
	return fmt.Sprintf("(a.version_prefix = %s AND a.version_suffix IS NOT DISTINCT FROM %s)",
		q.bind(int64(v.Prefix)), q.bind(v.SuffixColumn()))
}

func (q *queryBuilder) versionCompare(op models.FilterOp, v semver.Version) (string, error) {
	prefix := func() string { return q.bind(int64(v.Prefix)) }

	switch op {
	case models.OpEq:
		return q.versionEquals(v), nil
	case models.OpNeq:
		return "NOT " + q.versionEquals(v), nil
	case models.OpGt:
		if v.Suffix == "" {
			return "a.version_prefix > " + prefix(), nil
		}
		return fmt.Sprintf(
			"(a.version_prefix > %s OR (a.version_prefix = %s AND (a.version_suffix IS NULL OR a.version_suffix > %s)))",
			prefix(), prefix(), q.bind(v.Suffix)), nil
	case models.OpGte:
		if v.Suffix == "" {
			return fmt.Sprintf(
				"(a.version_prefix > %s OR (a.version_prefix = %s AND a.version_suffix IS NULL))",
				prefix(), prefix()), nil
		}
		return fmt.Sprintf(
			"(a.version_prefix > %s OR (a.version_prefix = %s AND (a.version_suffix IS NULL OR a.version_suffix >= %s)))",
			prefix(), prefix(), q.bind(v.Suffix)), nil
	case models.OpLt:
		if v.Suffix == "" {
			return fmt.Sprintf(
				"(a.version_prefix < %s OR (a.version_prefix = %s AND a.version_suffix IS NOT NULL))",
				prefix(), prefix()), nil
		}
		return fmt.Sprintf(
			"(a.version_prefix < %s OR (a.version_prefix = %s AND a.version_suffix IS NOT NULL AND a.version_suffix < %s))",
			prefix(), prefix(), q.bind(v.Suffix)), nil
	case models.OpLte:
		if v.Suffix == "" {
			return "a.version_prefix <= " + prefix(), nil
		}
		return fmt.Sprintf(
			"(a.version_prefix < %s OR (a.version_prefix = %s AND a.version_suffix IS NOT NULL AND a.version_suffix <= %s))",
			prefix(), prefix(), q.bind(v.Suffix)), nil
	}
	return "", apperr.InvalidFilter("unknown operator %q", op)
}

func (q *queryBuilder) applyPropertyFilter(f models.Filter) error {
	col, ok := typedColumns[f.Type]
	if !ok {
		return apperr.InvalidFilter("unknown value type %q", f.Type)
	}

	conds := []string{
		"p.artifact_id = a.id",
		"p.name = " + q.bind(f.Field),
	}
	if f.KeyName != "" {
		conds = append(conds, "p.key_name = "+q.bind(f.KeyName))
	}

	switch f.Op {
	case models.OpIn:
		conds = append(conds,
			fmt.Sprintf("p.%s = ANY(%s)", col, q.bind(anyValues(f.Values))))
	default:
		op, ok := sqlOps[f.Op]
		if !ok {
			return apperr.InvalidFilter("unknown operator %q", f.Op)
		}
		if len(f.Values) != 1 {
			return apperr.InvalidFilter("operator %q takes exactly one value", f.Op)
		}
		conds = append(conds, fmt.Sprintf("p.%s %s %s", col, op, q.bind(f.Values[0])))
	}

	q.where(fmt.Sprintf("EXISTS (SELECT 1 FROM artifact_properties p WHERE %s)",
		strings.Join(conds, " AND ")))
	return nil
}

// applySort compiles the sort keys. At most one custom property key is
// allowed; each property join for ordering costs a table scan, so the
// limit is enforced up front as a BadRequest.
func (q *queryBuilder) applySort(keys []models.SortKey) error {
	for i := range keys {
		key := &keys[i]
		dir, ok := map[models.SortDirection]string{
			models.SortAsc:  "ASC",
			models.SortDesc: "DESC",
		}[key.Direction]
		if !ok {
			return apperr.BadRequest("unknown sort direction, must be 'desc' or 'asc'")
		}

		if key.Field == "version" {
			// Postgres default NULL ordering (last on ASC, first on
			// DESC) matches release-after-pre-release both ways.
			q.orderBy = append(q.orderBy,
				"a.version_prefix "+dir,
				"a.version_suffix "+dir,
				"a.version_meta "+dir)
			continue
		}
		if col, ok := baseColumns[key.Field]; ok {
			q.orderBy = append(q.orderBy, col+" "+dir)
			continue
		}

		if q.propSortKey != nil {
			return apperr.BadRequest(
				"for performance sake it's not allowed to sort by more than one custom property")
		}
		col, ok := typedColumns[key.Type]
		if !ok {
			return apperr.BadRequest("unknown sort value type %q", key.Type)
		}
		key.Property = true
		q.propSortKey = key
		q.joins = append(q.joins, fmt.Sprintf(
			"JOIN artifact_properties sp ON sp.artifact_id = a.id AND sp.name = %s",
			q.bind(key.Field)))
		q.orderBy = append(q.orderBy, fmt.Sprintf("sp.%s %s", col, dir))
	}
	return nil
}

// applyLatestFilter keeps only the highest version in every
// (owner, name) group that survives the already-applied filters.
func (q *queryBuilder) applyLatestFilter() {
	visible := strings.Join(q.conds, " AND ")
	q.where(fmt.Sprintf(`a.id IN (
		SELECT ranked.id FROM (
			SELECT a.id, row_number() OVER (
				PARTITION BY a.owner, a.name
				ORDER BY a.version_prefix DESC, a.version_suffix DESC
			) AS rn
			FROM artifacts a
			WHERE %s
		) ranked WHERE ranked.rn = 1
	)`, visible))
}

// SQL assembles the final SELECT over the base table.
func (q *queryBuilder) SQL(limit int) string {
	var sb strings.Builder
	sb.WriteString(`SELECT a.id, a.type_name, a.display_type_name, a.name, a.version_prefix, a.version_suffix, a.version_meta,
		a.description, a.status, a.visibility, a.owner, a.created_at, a.updated_at, a.activated_at
	FROM artifacts a`)

	for _, j := range q.joins {
		sb.WriteString("\n\t")
		sb.WriteString(j)
	}
	if len(q.conds) > 0 {
		sb.WriteString("\n\tWHERE ")
		sb.WriteString(strings.Join(q.conds, " AND "))
	}
	if len(q.orderBy) > 0 {
		sb.WriteString("\n\tORDER BY ")
		sb.WriteString(strings.Join(q.orderBy, ", "))
	}
	if limit > 0 {
		sb.WriteString("\n\tLIMIT ")
		sb.WriteString(q.bind(limit))
	}
	return sb.String()
}

func parseVersionValue(raw any) (semver.Version, error) {
	s, ok := raw.(string)
	if !ok {
		return semver.Version{}, apperr.InvalidFilter("version filter value must be a string")
	}
	v, err := semver.Parse(s)
	if err != nil {
		return semver.Version{}, err
	}
	return v, nil
}

// anyStrings flattens filter values for = ANY($n) binding.
func anyStrings(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func anyValues(values []any) []any {
	return values
}

// DefaultSort is always appended after caller keys so pagination stays
// deterministic when user sort keys tie.
func DefaultSort() []models.SortKey {
	return []models.SortKey{
		{Field: "created_at", Direction: models.SortDesc},
		{Field: "id", Direction: models.SortAsc},
	}
}
