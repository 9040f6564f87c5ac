package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to models.Status
		ok       bool
	}{
		{models.StatusDrafted, models.StatusActive, true},
		{models.StatusDrafted, models.StatusDeleted, true},
		{models.StatusDrafted, models.StatusDeactivated, false},
		{models.StatusActive, models.StatusDeactivated, true},
		{models.StatusActive, models.StatusDrafted, false},
		{models.StatusDeactivated, models.StatusActive, true},
		{models.StatusDeactivated, models.StatusDrafted, false},
		{models.StatusDeleted, models.StatusActive, false},
		{models.StatusDeleted, models.StatusDrafted, false},
	}

	for _, tc := range cases {
		err := validateStatusTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			require.Error(t, err, "%s -> %s", tc.from, tc.to)
			assert.True(t, errors.Is(err, apperr.Forbidden("")), "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestPublishRequiresActive(t *testing.T) {
	draft := &models.Artifact{Status: models.StatusDrafted, Visibility: models.VisibilityPrivate}
	err := validateVisibilityTransition(draft, models.VisibilityPublic)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))

	active := &models.Artifact{Status: models.StatusActive, Visibility: models.VisibilityPrivate}
	assert.NoError(t, validateVisibilityTransition(active, models.VisibilityPublic))
}

func TestUnpublishRejected(t *testing.T) {
	public := &models.Artifact{Status: models.StatusActive, Visibility: models.VisibilityPublic}
	err := validateVisibilityTransition(public, models.VisibilityPrivate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestVisibilityNoopAllowed(t *testing.T) {
	public := &models.Artifact{Status: models.StatusDeactivated, Visibility: models.VisibilityPublic}
	assert.NoError(t, validateVisibilityTransition(public, models.VisibilityPublic))
}

func TestChangeAllowedInDraft(t *testing.T) {
	typ := filterTestType()
	draft := &models.Artifact{Status: models.StatusDrafted}

	assert.NoError(t, validateChangeAllowed(typ, draft, "disk_format"))
	assert.NoError(t, validateChangeAllowed(typ, draft, "internal"))
}

func TestChangeAfterActivationNeedsMutableField(t *testing.T) {
	typ := filterTestType()
	active := &models.Artifact{Status: models.StatusActive}

	assert.NoError(t, validateChangeAllowed(typ, active, "min_ram"))

	err := validateChangeAllowed(typ, active, "disk_format")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))
}

func TestChangeWhileDeactivatedRejected(t *testing.T) {
	typ := filterTestType()
	deactivated := &models.Artifact{Status: models.StatusDeactivated}

	assert.Error(t, validateChangeAllowed(typ, deactivated, "min_ram"))
}

func TestRequiredFieldsOnActivate(t *testing.T) {
	typ := &TypeDescriptor{
		Name: "docs",
		Fields: map[string]Field{
			"payload": {Kind: FieldBlob, Required: true},
			"title":   {Kind: FieldString, Required: true},
		},
	}

	a := &models.Artifact{
		Properties: map[string]any{},
		Blobs:      map[string]*models.Blob{},
		Folders:    map[string]map[string]*models.Blob{},
	}
	err := validateRequiredOnActivate(typ, a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Forbidden("")))

	a.Properties["title"] = "report"
	a.Blobs["payload"] = &models.Blob{Status: models.BlobStatusActive}
	assert.NoError(t, validateRequiredOnActivate(typ, a))
}

func TestPropertyValueValidation(t *testing.T) {
	typ := filterTestType()

	assert.NoError(t, validatePropertyValue(typ, "disk_format", "qcow2"))
	assert.Error(t, validatePropertyValue(typ, "disk_format", 7))
	assert.Error(t, validatePropertyValue(typ, "protected", "yes"))
	assert.NoError(t, validatePropertyValue(typ, "protected", true))
	assert.NoError(t, validatePropertyValue(typ, "metadata", map[string]any{"k": "v"}))
	assert.Error(t, validatePropertyValue(typ, "metadata", []any{"k"}))
	assert.NoError(t, validatePropertyValue(typ, "free_form", 12))
}

func TestBlobFieldRejectsPropertyWrites(t *testing.T) {
	err := validatePropertyValue(filterTestType(), "image", "bytes")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.BadRequest("")))
}
