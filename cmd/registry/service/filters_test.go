package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

func filterTestType() *TypeDescriptor {
	return &TypeDescriptor{
		Name: "images",
		Fields: map[string]Field{
			"disk_format": {Kind: FieldString, Filterable: true, Sortable: true},
			"min_ram":     {Kind: FieldInt, Filterable: true, Sortable: true, Mutable: true},
			"ratio":       {Kind: FieldNumeric, Filterable: true},
			"protected":   {Kind: FieldBool, Filterable: true},
			"metadata":    {Kind: FieldDict, ElementType: models.ValueTypeString, Filterable: true},
			"image":       {Kind: FieldBlob},
			"internal":    {Kind: FieldString},
		},
	}
}

func TestParseFiltersDefaultsToEquality(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "name", Expression: "cirros"},
	})
	require.NoError(t, err)
	require.Len(t, filters, 1)

	assert.Equal(t, "name", filters[0].Field)
	assert.Equal(t, models.OpEq, filters[0].Op)
	assert.Equal(t, []any{"cirros"}, filters[0].Values)
}

func TestParseFiltersOperatorPrefix(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "min_ram", Expression: "gte:512"},
	})
	require.NoError(t, err)
	require.Len(t, filters, 1)

	assert.Equal(t, models.OpGte, filters[0].Op)
	assert.Equal(t, models.ValueTypeInt, filters[0].Type)
	assert.Equal(t, []any{int64(512)}, filters[0].Values)
}

func TestParseFiltersTimestampKeepsColons(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "created_at", Expression: "2026-01-02T10:00:00Z"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OpEq, filters[0].Op)
	assert.Equal(t, []any{"2026-01-02T10:00:00Z"}, filters[0].Values)
}

func TestParseFiltersInSplitsValues(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "name", Expression: "in:cirros,ubuntu,fedora"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OpIn, filters[0].Op)
	assert.Equal(t, []any{"cirros", "ubuntu", "fedora"}, filters[0].Values)
}

func TestParseFiltersQuotedValueKeepsComma(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "tags", Expression: `"a,b",c`},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"a,b", "c"}, filters[0].Values)
}

func TestParseFiltersUnbalancedQuoteRejected(t *testing.T) {
	_, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "tags", Expression: `"a,b`},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestParseFiltersQuoteMustFollowComma(t *testing.T) {
	_, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "tags", Expression: `a"b",c`},
	})
	assert.Error(t, err)
}

func TestParseFiltersDictKeyAccess(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "metadata.region", Expression: "eq:west"},
	})
	require.NoError(t, err)

	assert.Equal(t, "metadata", filters[0].Field)
	assert.Equal(t, "region", filters[0].KeyName)
	assert.Equal(t, []any{"west"}, filters[0].Values)
}

func TestParseFiltersTypedConversions(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "ratio", Expression: "gt:1.5"},
		{Field: "protected", Expression: "true"},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{1.5}, filters[0].Values)
	assert.Equal(t, []any{true}, filters[1].Values)
}

func TestParseFiltersBadTypedValue(t *testing.T) {
	_, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "min_ram", Expression: "lots"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestParseFiltersUnknownPrefixTreatedAsValue(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "name", Expression: "like:cirros"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OpEq, filters[0].Op)
	assert.Equal(t, []any{"like:cirros"}, filters[0].Values)
}

func TestParseFiltersBlobFieldRejected(t *testing.T) {
	_, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "image", Expression: "eq:x"},
	})
	assert.Error(t, err)
}

func TestParseFiltersUnfilterableFieldRejected(t *testing.T) {
	_, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "internal", Expression: "eq:x"},
	})
	assert.Error(t, err)
}

func TestParseFiltersUndeclaredFieldAllowed(t *testing.T) {
	filters, err := ParseFilters(filterTestType(), []FilterParam{
		{Field: "custom", Expression: "eq:anything"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ValueTypeString, filters[0].Type)
}

func TestParseSortDefaults(t *testing.T) {
	keys, err := ParseSort(filterTestType(), "name")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	assert.Equal(t, "name", keys[0].Field)
	assert.Equal(t, models.SortDesc, keys[0].Direction)
	assert.False(t, keys[0].Property)
}

func TestParseSortMultipleKeys(t *testing.T) {
	keys, err := ParseSort(filterTestType(), "version:asc,min_ram:desc")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, models.SortAsc, keys[0].Direction)
	assert.True(t, keys[1].Property)
	assert.Equal(t, models.ValueTypeInt, keys[1].Type)
}

func TestParseSortBadDirection(t *testing.T) {
	_, err := ParseSort(filterTestType(), "name:sideways")
	assert.Error(t, err)
}

func TestParseSortUnknownProperty(t *testing.T) {
	_, err := ParseSort(filterTestType(), "nonexistent")
	assert.Error(t, err)
}

func TestParseSortUnsortableProperty(t *testing.T) {
	_, err := ParseSort(filterTestType(), "ratio")
	assert.Error(t, err)
}
