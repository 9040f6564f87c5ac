package service

import (
	"strconv"
	"strings"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

// FilterParam is one raw query-string filter: the field name and the
// "op:value" expression attached to it.
type FilterParam struct {
	Field      string
	Expression string
}

var baseFilterFields = map[string]bool{
	"id": true, "type_name": true, "name": true, "description": true,
	"status": true, "visibility": true, "owner": true, "version": true,
	"created_at": true, "updated_at": true, "activated_at": true,
	"tags": true, "tags-any": true,
}

// ParseFilters turns raw query filters into typed conditions. Multi
// value expressions are tokenized respecting double quotes, so a value
// containing a comma must be quoted.
func ParseFilters(t *TypeDescriptor, params []FilterParam) ([]models.Filter, error) {
	filters := make([]models.Filter, 0, len(params))

	for _, p := range params {
		op, rawValue := splitFilterOp(p.Expression)

		fop := models.FilterOp(op)
		if _, known := map[models.FilterOp]bool{
			models.OpEq: true, models.OpNeq: true, models.OpGt: true,
			models.OpGte: true, models.OpLt: true, models.OpLte: true,
			models.OpIn: true,
		}[fop]; !known {
			return nil, apperr.InvalidFilter("unknown filter operator %q", op)
		}

		field, keyName := splitKeyName(p.Field)

		f := models.Filter{
			Field:   field,
			KeyName: keyName,
			Op:      fop,
			Type:    models.ValueTypeString,
		}

		if !baseFilterFields[field] {
			if decl, ok := t.field(field); ok {
				if decl.Kind == FieldBlob || decl.Kind == FieldBlobFolder {
					return nil, apperr.InvalidFilter("cannot filter by blob field %q", field)
				}
				if !decl.Filterable {
					return nil, apperr.InvalidFilter("field %q is not filterable", field)
				}
				f.Type = decl.ValueType()
			}
		}

		var rawValues []string
		if fop == models.OpIn || field == "tags" || field == "tags-any" {
			split, err := splitFilterValues(rawValue)
			if err != nil {
				return nil, err
			}
			rawValues = split
		} else {
			rawValues = []string{rawValue}
		}

		for _, raw := range rawValues {
			v, err := convertFilterValue(f.Type, field, raw)
			if err != nil {
				return nil, err
			}
			f.Values = append(f.Values, v)
		}

		filters = append(filters, f)
	}
	return filters, nil
}

// ParseSort parses "field", "field:dir" or "field:dir:type" sort
// expressions, comma separated.
func ParseSort(t *TypeDescriptor, raw string) ([]models.SortKey, error) {
	if raw == "" {
		return nil, nil
	}

	var keys []models.SortKey
	for _, part := range strings.Split(raw, ",") {
		pieces := strings.SplitN(strings.TrimSpace(part), ":", 3)

		key := models.SortKey{
			Field:     pieces[0],
			Direction: models.SortDesc,
			Type:      models.ValueTypeString,
		}
		if len(pieces) > 1 && pieces[1] != "" {
			key.Direction = models.SortDirection(pieces[1])
		}
		if key.Direction != models.SortAsc && key.Direction != models.SortDesc {
			return nil, apperr.BadRequest(
				"unknown sort direction, must be 'desc' or 'asc'")
		}

		if !baseFilterFields[key.Field] {
			decl, ok := t.field(key.Field)
			if !ok {
				return nil, apperr.BadRequest("unknown sort field %q", key.Field)
			}
			if !decl.Sortable {
				return nil, apperr.BadRequest("field %q is not sortable", key.Field)
			}
			key.Property = true
			key.Type = decl.ValueType()
		}
		if len(pieces) > 2 && pieces[2] != "" {
			key.Type = models.ValueType(pieces[2])
		}

		keys = append(keys, key)
	}
	return keys, nil
}

// splitFilterOp splits "op:value", defaulting to equality when no
// operator prefix is present. ISO timestamps carry colons of their
// own, so an unknown prefix falls back to treating the whole
// expression as an eq value.
func splitFilterOp(expression string) (string, string) {
	left, right, found := strings.Cut(expression, ":")
	if !found {
		return "eq", expression
	}
	switch left {
	case "eq", "neq", "gt", "gte", "lt", "lte", "in":
		return left, right
	}
	return "eq", expression
}

// splitKeyName peels a dict element access off a property filter
// field: "metadata.region" filters the "region" key of "metadata".
func splitKeyName(field string) (string, string) {
	if baseFilterFields[field] {
		return field, ""
	}
	name, key, found := strings.Cut(field, ".")
	if !found {
		return field, ""
	}
	return name, key
}

// validateQuotes checks that double quotes in a multi-value expression
// pair up and sit against commas.
func validateQuotes(value string) error {
	openQuotes := true
	for i := 0; i < len(value); i++ {
		if value[i] != '"' {
			continue
		}
		if i > 0 && value[i-1] == '\\' {
			continue
		}
		if openQuotes {
			if i > 0 && value[i-1] != ',' {
				return apperr.InvalidFilter(
					"invalid filter value %s: there is no comma before opening quotation mark", value)
			}
		} else {
			if i+1 != len(value) && value[i+1] != ',' {
				return apperr.InvalidFilter(
					"invalid filter value %s: there is no comma after closing quotation mark", value)
			}
		}
		openQuotes = !openQuotes
	}
	if !openQuotes {
		return apperr.InvalidFilter("invalid filter value %s: the quote is not closed", value)
	}
	return nil
}

// splitFilterValues splits a comma separated multi-value expression,
// honoring double-quoted values that contain commas themselves.
func splitFilterValues(value string) ([]string, error) {
	if err := validateQuotes(value); err != nil {
		return nil, err
	}

	var (
		values  []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		values = append(values, current.String())
		current.Reset()
	}

	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case escaped:
			current.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return values, nil
}

func convertFilterValue(vt models.ValueType, field, raw string) (any, error) {
	switch vt {
	case models.ValueTypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, apperr.InvalidFilter("field %q expects an integer, got %q", field, raw)
		}
		return n, nil
	case models.ValueTypeNumeric:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, apperr.InvalidFilter("field %q expects a number, got %q", field, raw)
		}
		return f, nil
	case models.ValueTypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperr.InvalidFilter("field %q expects a boolean, got %q", field, raw)
		}
		return b, nil
	}
	return raw, nil
}
