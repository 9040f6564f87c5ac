package models

import (
	"time"

	"github.com/openartifacts/registry/common/semver"
)

// Status represents the lifecycle state of an artifact
type Status string

const (
	StatusDrafted     Status = "drafted"
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
	StatusDeleted     Status = "deleted"
)

// Visibility controls which tenants can read an artifact
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Artifact is the fully assembled record: the base row plus its tag,
// property and blob child rows folded back into structured fields.
// Maps to: artifacts table + artifact_tags + artifact_properties +
// artifact_blobs
type Artifact struct {
	// Unique artifact ID (UUID v4)
	ID string `db:"id" json:"id"`

	// Artifact type this record belongs to
	TypeName string `db:"type_name" json:"type_name"`

	// Human readable type name, stamped from the type descriptor
	DisplayTypeName string `db:"display_type_name" json:"display_type_name"`

	// Human friendly name; (owner, type_name, name, version) is unique
	Name string `db:"name" json:"name"`

	// Semantic version, stored decomposed for sortable comparison
	Version semver.Version `db:"-" json:"version"`

	Description string `db:"description" json:"description"`

	Status     Status     `db:"status" json:"status"`
	Visibility Visibility `db:"visibility" json:"visibility"`

	// Owning tenant
	Owner string `db:"owner" json:"owner"`

	// Tags attached to the artifact, all of one flat namespace
	Tags []string `db:"-" json:"tags"`

	// Typed per-type properties: scalars, homogeneous lists or
	// string-keyed dicts of scalars
	Properties map[string]any `db:"-" json:"properties"`

	// Single-value blob fields by field name
	Blobs map[string]*Blob `db:"-" json:"blobs"`

	// Blob folder fields: field name -> key -> blob
	Folders map[string]map[string]*Blob `db:"-" json:"folders"`

	// Audit fields
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	ActivatedAt *time.Time `db:"activated_at" json:"activated_at,omitempty"`
}

// Mutable reports whether user-facing fields may still be edited.
func (a *Artifact) Mutable() bool {
	return a.Status == StatusDrafted
}

// Readable reports whether the requesting tenant may see this artifact.
// Admins see everything, public artifacts are visible to every tenant.
func (a *Artifact) Readable(rc *RequestContext) bool {
	if rc.IsAdmin || a.Visibility == VisibilityPublic {
		return true
	}
	return a.Owner == rc.TenantID
}

// HasSavingBlob reports whether any blob of the artifact is mid-upload.
// Status and visibility transitions are refused while one is.
func (a *Artifact) HasSavingBlob() bool {
	for _, b := range a.Blobs {
		if b != nil && b.Status == BlobStatusSaving {
			return true
		}
	}
	for _, folder := range a.Folders {
		for _, b := range folder {
			if b != nil && b.Status == BlobStatusSaving {
				return true
			}
		}
	}
	return false
}

// ArtifactUpdate carries a partial write against an artifact. Nil
// fields are left untouched; the repository only writes what is set.
type ArtifactUpdate struct {
	Name        *string
	Version     *semver.Version
	Description *string
	Status      *Status
	Visibility  *Visibility
	ActivatedAt *time.Time

	// Tags replaces the whole tag set when non-nil
	Tags []string

	// Properties are merged per name. A nil value skips the name,
	// lists upsert per position, dicts per key.
	Properties map[string]any

	// Blobs are merged per field name; a nil *Blob skips the name.
	// Removal is explicit through the repository.
	Blobs map[string]*Blob

	// Folders are merged per field name and key; nil entries and nil
	// inner maps are skipped.
	Folders map[string]map[string]*Blob
}

// Empty reports whether the update carries no writes at all.
func (u *ArtifactUpdate) Empty() bool {
	return u.Name == nil && u.Version == nil && u.Description == nil &&
		u.Status == nil && u.Visibility == nil && u.ActivatedAt == nil &&
		u.Tags == nil && u.Properties == nil && u.Blobs == nil &&
		u.Folders == nil
}
