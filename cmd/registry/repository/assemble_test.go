package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int         { return &n }
func int64Ptr(n int64) *int64   { return &n }
func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }
func f64Ptr(f float64) *float64 { return &f }

func TestFoldScalarProperty(t *testing.T) {
	assert.Equal(t, "qcow2", foldProperty([]propertyRow{
		{Name: "disk_format", StringValue: strPtr("qcow2")},
	}))
	assert.Equal(t, int64(512), foldProperty([]propertyRow{
		{Name: "min_ram", IntValue: int64Ptr(512)},
	}))
	assert.Equal(t, true, foldProperty([]propertyRow{
		{Name: "protected", BoolValue: boolPtr(true)},
	}))
	assert.Equal(t, 1.5, foldProperty([]propertyRow{
		{Name: "ratio", NumericValue: f64Ptr(1.5)},
	}))
}

func TestFoldListPropertyOrdersByPosition(t *testing.T) {
	value := foldProperty([]propertyRow{
		{Name: "authors", StringValue: strPtr("bob"), Position: intPtr(1)},
		{Name: "authors", StringValue: strPtr("alice"), Position: intPtr(0)},
	})
	assert.Equal(t, []any{"alice", "bob"}, value)
}

func TestFoldListPropertyKeepsGaps(t *testing.T) {
	// positions survive partial updates, so holes stay visible as nils
	value := foldProperty([]propertyRow{
		{Name: "authors", StringValue: strPtr("carol"), Position: intPtr(2)},
		{Name: "authors", StringValue: strPtr("alice"), Position: intPtr(0)},
	})
	assert.Equal(t, []any{"alice", nil, "carol"}, value)
}

func TestFoldDictProperty(t *testing.T) {
	value := foldProperty([]propertyRow{
		{Name: "metadata", StringValue: strPtr("west"), KeyName: strPtr("region")},
		{Name: "metadata", StringValue: strPtr("ssd"), KeyName: strPtr("storage")},
	})
	assert.Equal(t, map[string]any{"region": "west", "storage": "ssd"}, value)
}

func TestGroupPropertiesPerArtifact(t *testing.T) {
	grouped := groupProperties([]propertyRow{
		{ArtifactID: "a1", Name: "disk_format", StringValue: strPtr("raw")},
		{ArtifactID: "a1", Name: "min_ram", IntValue: int64Ptr(256)},
		{ArtifactID: "a2", Name: "disk_format", StringValue: strPtr("qcow2")},
	})

	require.Len(t, grouped, 2)
	assert.Equal(t, map[string]any{"disk_format": "raw", "min_ram": int64(256)}, grouped["a1"])
	assert.Equal(t, map[string]any{"disk_format": "qcow2"}, grouped["a2"])
}

func TestPropertyRowValuePrecedence(t *testing.T) {
	// only one typed column is ever set; bool wins the dispatch order
	r := propertyRow{BoolValue: boolPtr(false)}
	assert.Equal(t, false, r.value())

	empty := propertyRow{}
	assert.Nil(t, empty.value())
}
