package validation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openartifacts/registry/common/apperr"
)

func TestValidatePatchAccepts(t *testing.T) {
	doc := []byte(`[
		{"op": "replace", "path": "/description", "value": "updated"},
		{"op": "add", "path": "/tags/-", "value": "stable"},
		{"op": "remove", "path": "/stale_field"},
		{"op": "test", "path": "/status", "value": "drafted"},
		{"op": "move", "from": "/old_name", "path": "/new_name"},
		{"op": "copy", "from": "/name", "path": "/alias"}
	]`)
	assert.NoError(t, ValidatePatch(doc))
}

func TestValidatePatchRejectsNonArray(t *testing.T) {
	err := ValidatePatch([]byte(`{"op": "replace", "path": "/x", "value": 1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}

func TestValidatePatchRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidatePatch([]byte(`[]`)))
}

func TestValidatePatchRejectsOversized(t *testing.T) {
	ops := make([]map[string]any, MaxPatchOperations+1)
	for i := range ops {
		ops[i] = map[string]any{"op": "remove", "path": "/x"}
	}
	doc, err := json.Marshal(ops)
	require.NoError(t, err)
	assert.Error(t, ValidatePatch(doc))
}

func TestValidatePatchOperationShape(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing op", `[{"path": "/x", "value": 1}]`},
		{"unknown op", `[{"op": "merge", "path": "/x", "value": 1}]`},
		{"missing path", `[{"op": "remove"}]`},
		{"relative path", `[{"op": "remove", "path": "x"}]`},
		{"add without value", `[{"op": "add", "path": "/x"}]`},
		{"test without value", `[{"op": "test", "path": "/x"}]`},
		{"move without from", `[{"op": "move", "path": "/x"}]`},
		{"numeric op field", `[{"op": 3, "path": "/x"}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePatch([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.BadRequest("")))
		})
	}
}
