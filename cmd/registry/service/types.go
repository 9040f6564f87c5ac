package service

import (
	"fmt"
	"sort"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/apperr"
)

// FieldKind classifies a custom field of an artifact type.
type FieldKind string

const (
	FieldString     FieldKind = "string"
	FieldInt        FieldKind = "int"
	FieldNumeric    FieldKind = "numeric"
	FieldBool       FieldKind = "bool"
	FieldList       FieldKind = "list"
	FieldDict       FieldKind = "dict"
	FieldBlob       FieldKind = "blob"
	FieldBlobFolder FieldKind = "blob_folder"
)

const defaultMaxBlobSize = int64(10) * 1024 * 1024 * 1024

// Field describes one custom field of an artifact type.
type Field struct {
	Kind FieldKind

	// ElementType types list elements and dict values
	ElementType models.ValueType

	// Required fields must be set before the artifact can activate
	Required bool

	// Mutable fields stay editable after the draft is activated
	Mutable bool

	Sortable   bool
	Filterable bool

	// Blob limits; zero means the defaults apply
	MaxBlobSize   int64
	MaxFolderSize int64
}

// ValueType resolves the typed column a scalar field compares through.
func (f Field) ValueType() models.ValueType {
	switch f.Kind {
	case FieldInt:
		return models.ValueTypeInt
	case FieldNumeric:
		return models.ValueTypeNumeric
	case FieldBool:
		return models.ValueTypeBool
	case FieldList, FieldDict:
		if f.ElementType != "" {
			return f.ElementType
		}
	}
	return models.ValueTypeString
}

// TypeDescriptor declares one artifact type: its custom fields and its
// per-type quota limits, -1 meaning no type-specific limit.
type TypeDescriptor struct {
	Name string

	// DisplayName is the human readable type name stamped onto every
	// artifact of the type.
	DisplayName string
	Description string
	Fields      map[string]Field

	MaxArtifactNumber int64
	MaxUploadedData   int64
}

func (t *TypeDescriptor) field(name string) (Field, bool) {
	f, ok := t.Fields[name]
	return f, ok
}

// MaxBlobSize returns the effective byte limit for one blob field.
func (t *TypeDescriptor) MaxBlobSize(fieldName string) int64 {
	if f, ok := t.Fields[fieldName]; ok && f.MaxBlobSize > 0 {
		return f.MaxBlobSize
	}
	return defaultMaxBlobSize
}

// MaxFolderSize returns the effective combined byte limit for a blob
// folder field.
func (t *TypeDescriptor) MaxFolderSize(fieldName string) int64 {
	if f, ok := t.Fields[fieldName]; ok && f.MaxFolderSize > 0 {
		return f.MaxFolderSize
	}
	return defaultMaxBlobSize
}

// IsBlob reports whether the field holds a single blob.
func (t *TypeDescriptor) IsBlob(fieldName string) bool {
	f, ok := t.Fields[fieldName]
	return ok && f.Kind == FieldBlob
}

// IsBlobFolder reports whether the field holds a keyed blob collection.
func (t *TypeDescriptor) IsBlobFolder(fieldName string) bool {
	f, ok := t.Fields[fieldName]
	return ok && f.Kind == FieldBlobFolder
}

// TypeRegistry holds every known artifact type. Types register once at
// startup; lookups after that are read-only.
type TypeRegistry struct {
	types map[string]*TypeDescriptor
}

// NewTypeRegistry creates a registry seeded with the given types.
func NewTypeRegistry(types ...*TypeDescriptor) (*TypeRegistry, error) {
	r := &TypeRegistry{types: map[string]*TypeDescriptor{}}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one type descriptor.
func (r *TypeRegistry) Register(t *TypeDescriptor) error {
	if t.Name == "" {
		return fmt.Errorf("artifact type needs a name")
	}
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("artifact type %q already registered", t.Name)
	}
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}
	if t.MaxArtifactNumber == 0 {
		t.MaxArtifactNumber = models.Unlimited
	}
	if t.MaxUploadedData == 0 {
		t.MaxUploadedData = models.Unlimited
	}
	r.types[t.Name] = t
	return nil
}

// Get resolves a type by name.
func (r *TypeRegistry) Get(name string) (*TypeDescriptor, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, apperr.TypeNotFound(name)
	}
	return t, nil
}

// Names lists registered type names in stable order.
func (r *TypeRegistry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultTypes returns the stock artifact types served out of the box.
func DefaultTypes() []*TypeDescriptor {
	return []*TypeDescriptor{
		{
			Name:        "generic",
			DisplayName: "Generic Artifact",
			Description: "unstructured artifact with free-form properties",
			Fields:      map[string]Field{},
		},
		{
			Name:        "images",
			DisplayName: "Machine Images",
			Description: "bootable machine images",
			Fields: map[string]Field{
				"image": {Kind: FieldBlob, Required: true},
				"disk_format": {
					Kind: FieldString, Filterable: true, Sortable: true,
				},
				"container_format": {
					Kind: FieldString, Filterable: true,
				},
				"min_ram": {
					Kind: FieldInt, Filterable: true, Sortable: true, Mutable: true,
				},
				"min_disk": {
					Kind: FieldInt, Filterable: true, Sortable: true, Mutable: true,
				},
				"architecture": {
					Kind: FieldString, Filterable: true,
				},
				"metadata": {
					Kind: FieldDict, ElementType: models.ValueTypeString, Filterable: true,
				},
			},
		},
		{
			Name:        "documents",
			DisplayName: "Document Bundles",
			Description: "versioned document bundles",
			Fields: map[string]Field{
				"pages": {Kind: FieldBlobFolder},
				"authors": {
					Kind: FieldList, ElementType: models.ValueTypeString, Filterable: true,
				},
				"page_count": {
					Kind: FieldInt, Filterable: true, Sortable: true,
				},
				"language": {
					Kind: FieldString, Filterable: true, Sortable: true,
				},
				"draft_notes": {
					Kind: FieldString, Mutable: true,
				},
			},
		},
	}
}
