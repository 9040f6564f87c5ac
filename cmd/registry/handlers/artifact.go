package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/middleware"
	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/cmd/registry/service"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/bootstrap"
)

const (
	defaultListLimit = 25
	maxListLimit     = 1000
)

// query params with reserved meaning; everything else is a filter
var reservedListParams = map[string]bool{
	"limit": true, "marker": true, "sort": true, "latest": true,
}

// ArtifactHandler handles artifact CRUD requests
type ArtifactHandler struct {
	components *bootstrap.Components
	artifacts  *service.ArtifactService
	registry   *service.TypeRegistry
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(c *container.Container) *ArtifactHandler {
	return &ArtifactHandler{
		components: c.Components,
		artifacts:  c.ArtifactService,
		registry:   c.TypeRegistry,
	}
}

// CreateArtifact creates a new artifact in drafted state
// POST /api/v1/artifacts/:type
func (h *ArtifactHandler) CreateArtifact(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	var values map[string]any
	if err := c.Bind(&values); err != nil {
		return writeError(c, h.components.Logger, apperr.BadRequest("invalid request body"))
	}

	af, err := h.artifacts.Create(ctx, rc, c.Param("type"), values)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	h.components.Logger.Info("artifact created",
		"type", af.TypeName, "id", af.ID, "name", af.Name, "owner", af.Owner)

	return c.JSON(http.StatusCreated, af)
}

// GetArtifact retrieves a single artifact
// GET /api/v1/artifacts/:type/:id
func (h *ArtifactHandler) GetArtifact(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	af, err := h.artifacts.Get(ctx, rc, c.Param("type"), c.Param("id"))
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}
	return c.JSON(http.StatusOK, af)
}

// ListArtifacts lists visible artifacts with filters, sorting and
// keyset pagination
// GET /api/v1/artifacts/:type?name=eq:cirros&sort=version:desc&limit=25
func (h *ArtifactHandler) ListArtifacts(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)
	typeName := c.Param("type")

	t, err := h.registry.Get(typeName)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	params, err := parseListParams(c, t)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	artifacts, total, err := h.artifacts.List(ctx, rc, typeName, params)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	resp := map[string]any{
		"artifacts": artifacts,
		"total":     total,
	}
	if len(artifacts) == params.Limit && len(artifacts) > 0 {
		resp["next_marker"] = artifacts[len(artifacts)-1].ID
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateArtifact applies a JSON patch to an artifact
// PATCH /api/v1/artifacts/:type/:id
func (h *ArtifactHandler) UpdateArtifact(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	patchDoc, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeError(c, h.components.Logger, apperr.BadRequest("cannot read request body"))
	}

	af, err := h.artifacts.Update(ctx, rc, c.Param("type"), c.Param("id"), patchDoc)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	h.components.Logger.Info("artifact updated",
		"type", af.TypeName, "id", af.ID, "status", af.Status)

	return c.JSON(http.StatusOK, af)
}

// DeleteArtifact deletes an artifact and its stored blobs
// DELETE /api/v1/artifacts/:type/:id
func (h *ArtifactHandler) DeleteArtifact(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)
	id := c.Param("id")

	if err := h.artifacts.Delete(ctx, rc, c.Param("type"), id); err != nil {
		return writeError(c, h.components.Logger, err)
	}

	h.components.Logger.Info("artifact deleted", "type", c.Param("type"), "id", id)

	return c.NoContent(http.StatusNoContent)
}

// parseListParams reads filters, sort, marker, limit and latest from
// the query string. Any non-reserved param is treated as a filter
// expression against the named field.
func parseListParams(c echo.Context, t *service.TypeDescriptor) (*models.ListParams, error) {
	params := &models.ListParams{Limit: defaultListLimit}

	var rawFilters []service.FilterParam
	for field, expressions := range c.QueryParams() {
		if reservedListParams[field] {
			continue
		}
		for _, expr := range expressions {
			rawFilters = append(rawFilters, service.FilterParam{Field: field, Expression: expr})
		}
	}

	filters, err := service.ParseFilters(t, rawFilters)
	if err != nil {
		return nil, err
	}
	params.Filters = filters

	if raw := c.QueryParam("sort"); raw != "" {
		sort, err := service.ParseSort(t, raw)
		if err != nil {
			return nil, err
		}
		params.Sort = sort
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, apperr.BadRequest("limit must be a positive integer")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		params.Limit = limit
	}

	params.Marker = c.QueryParam("marker")

	if raw := c.QueryParam("latest"); raw != "" {
		latest, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperr.BadRequest("latest must be a boolean")
		}
		params.Latest = latest
	}

	return params, nil
}
