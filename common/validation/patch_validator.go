package validation

import (
	"encoding/json"

	"github.com/openartifacts/registry/common/apperr"
)

// MaxPatchOperations caps the number of operations a single patch
// document may carry.
const MaxPatchOperations = 64

var supportedOps = map[string]bool{
	"add":     true,
	"remove":  true,
	"replace": true,
	"move":    true,
	"copy":    true,
	"test":    true,
}

// ValidatePatch screens a JSON patch document before it is applied.
// The patch library reports structural problems too, but only after
// materializing the target document; this rejects malformed or
// oversized patches up front with a client error.
func ValidatePatch(doc []byte) error {
	var operations []map[string]json.RawMessage
	if err := json.Unmarshal(doc, &operations); err != nil {
		return apperr.BadRequest("patch must be a JSON array of operations: %v", err)
	}

	if len(operations) == 0 {
		return apperr.BadRequest("patch contains no operations")
	}
	if len(operations) > MaxPatchOperations {
		return apperr.BadRequest(
			"patch exceeds %d operations (got %d)", MaxPatchOperations, len(operations))
	}

	for i, op := range operations {
		if err := validateOperation(op, i); err != nil {
			return err
		}
	}

	return nil
}

func validateOperation(op map[string]json.RawMessage, index int) error {
	opType, err := stringField(op, "op")
	if err != nil {
		return apperr.BadRequest("operation %d: missing or invalid 'op' field", index)
	}
	if !supportedOps[opType] {
		return apperr.BadRequest("operation %d: unsupported operation type %q", index, opType)
	}

	path, err := stringField(op, "path")
	if err != nil {
		return apperr.BadRequest("operation %d: missing or invalid 'path' field", index)
	}
	if path == "" || path[0] != '/' {
		return apperr.BadRequest("operation %d: path %q must start with '/'", index, path)
	}

	switch opType {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return apperr.BadRequest("operation %d: 'value' required for %s operation", index, opType)
		}
	case "move", "copy":
		from, err := stringField(op, "from")
		if err != nil || from == "" || from[0] != '/' {
			return apperr.BadRequest("operation %d: 'from' required for %s operation", index, opType)
		}
	}

	return nil
}

func stringField(op map[string]json.RawMessage, name string) (string, error) {
	raw, ok := op[name]
	if !ok {
		return "", apperr.BadRequest("missing field %q", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}
