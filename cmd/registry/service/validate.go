package service

import (
	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

// allowedStatusTransitions maps each lifecycle state to the states it
// may move to. Deleted is terminal.
var allowedStatusTransitions = map[models.Status][]models.Status{
	models.StatusDrafted:     {models.StatusActive, models.StatusDeleted},
	models.StatusActive:      {models.StatusDeactivated, models.StatusDeleted},
	models.StatusDeactivated: {models.StatusActive, models.StatusDeleted},
	models.StatusDeleted:     {},
}

func validateStatusTransition(from, to models.Status) error {
	for _, allowed := range allowedStatusTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return apperr.Forbidden(
		"artifact status cannot change from %q to %q", from, to)
}

// validateVisibilityTransition allows exactly one move: a private
// artifact becomes public once it is active. Unpublishing is not
// supported; consumers may already depend on the artifact.
func validateVisibilityTransition(a *models.Artifact, to models.Visibility) error {
	if to == a.Visibility {
		return nil
	}
	if a.Visibility == models.VisibilityPrivate && to == models.VisibilityPublic {
		if a.Status != models.StatusActive {
			return apperr.Forbidden("cannot publish non-active artifact")
		}
		return nil
	}
	return apperr.Forbidden(
		"visibility cannot change from %q to %q", a.Visibility, to)
}

// validateChangeAllowed refuses edits to immutable fields once the
// artifact has left the draft state.
func validateChangeAllowed(t *TypeDescriptor, a *models.Artifact, fieldName string) error {
	if a.Mutable() {
		return nil
	}
	if f, ok := t.field(fieldName); ok && f.Mutable && a.Status == models.StatusActive {
		return nil
	}
	return apperr.Forbidden(
		"forbidden to change field %q after activation", fieldName)
}

// validateRequiredOnActivate checks that every required field carries a
// value before the draft activates.
func validateRequiredOnActivate(t *TypeDescriptor, a *models.Artifact) error {
	for name, f := range t.Fields {
		if !f.Required {
			continue
		}

		var set bool
		switch f.Kind {
		case FieldBlob:
			set = a.Blobs[name] != nil
		case FieldBlobFolder:
			set = len(a.Folders[name]) > 0
		default:
			set = a.Properties[name] != nil
		}
		if !set {
			return apperr.Forbidden(
				"field %q must be set before activation", name)
		}
	}
	return nil
}

// validatePropertyValue checks an incoming property value against the
// field declaration, leaving unknown names alone: free-form properties
// are allowed for types that declare no matching field.
func validatePropertyValue(t *TypeDescriptor, name string, value any) error {
	f, ok := t.field(name)
	if !ok {
		return nil
	}

	switch f.Kind {
	case FieldBlob, FieldBlobFolder:
		return apperr.BadRequest(
			"cannot add blob %q with this request, use the blob API for that", name)
	case FieldList:
		if _, ok := value.([]any); !ok {
			return apperr.BadRequest("field %q expects a list", name)
		}
	case FieldDict:
		if _, ok := value.(map[string]any); !ok {
			return apperr.BadRequest("field %q expects a dict", name)
		}
	case FieldString:
		if _, ok := value.(string); !ok {
			return apperr.BadRequest("field %q expects a string", name)
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return apperr.BadRequest("field %q expects a boolean", name)
		}
	}
	return nil
}
