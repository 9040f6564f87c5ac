package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/service"
	"github.com/openartifacts/registry/common/bootstrap"
)

// SchemaHandler exposes the registered artifact types
type SchemaHandler struct {
	components *bootstrap.Components
	registry   *service.TypeRegistry
}

// NewSchemaHandler creates a new schema handler
func NewSchemaHandler(c *container.Container) *SchemaHandler {
	return &SchemaHandler{
		components: c.Components,
		registry:   c.TypeRegistry,
	}
}

// ListSchemas lists every registered artifact type
// GET /api/v1/schemas
func (h *SchemaHandler) ListSchemas(c echo.Context) error {
	schemas := map[string]any{}
	for _, name := range h.registry.Names() {
		t, err := h.registry.Get(name)
		if err != nil {
			return writeError(c, h.components.Logger, err)
		}
		schemas[name] = schemaView(t)
	}
	return c.JSON(http.StatusOK, map[string]any{"schemas": schemas})
}

// GetSchema returns one artifact type
// GET /api/v1/schemas/:type
func (h *SchemaHandler) GetSchema(c echo.Context) error {
	t, err := h.registry.Get(c.Param("type"))
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"schemas": map[string]any{t.Name: schemaView(t)},
	})
}

func schemaView(t *service.TypeDescriptor) map[string]any {
	fields := map[string]any{}
	for name, f := range t.Fields {
		view := map[string]any{
			"kind":       f.Kind,
			"required":   f.Required,
			"mutable":    f.Mutable,
			"sortable":   f.Sortable,
			"filterable": f.Filterable,
		}
		if f.ElementType != "" {
			view["element_type"] = f.ElementType
		}
		if f.Kind == service.FieldBlob || f.Kind == service.FieldBlobFolder {
			view["max_blob_size"] = t.MaxBlobSize(name)
		}
		if f.Kind == service.FieldBlobFolder {
			view["max_folder_size"] = t.MaxFolderSize(name)
		}
		fields[name] = view
	}
	return map[string]any{
		"name":                t.Name,
		"display_name":        t.DisplayName,
		"description":         t.Description,
		"fields":              fields,
		"max_artifact_number": t.MaxArtifactNumber,
		"max_uploaded_data":   t.MaxUploadedData,
	}
}
