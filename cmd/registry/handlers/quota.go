package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/middleware"
	"github.com/openartifacts/registry/cmd/registry/service"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/bootstrap"
)

// QuotaHandler handles per-project quota requests
type QuotaHandler struct {
	components *bootstrap.Components
	quotas     *service.QuotaService
}

// NewQuotaHandler creates a new quota handler
func NewQuotaHandler(c *container.Container) *QuotaHandler {
	return &QuotaHandler{
		components: c.Components,
		quotas:     c.QuotaService,
	}
}

// SetQuotas replaces the quota overrides of the listed projects
// PUT /api/v1/quotas
func (h *QuotaHandler) SetQuotas(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	var values map[string]map[string]int64
	if err := c.Bind(&values); err != nil {
		return writeError(c, h.components.Logger, apperr.BadRequest("invalid request body"))
	}
	if len(values) == 0 {
		return writeError(c, h.components.Logger, apperr.BadRequest("no quota values given"))
	}

	if err := h.quotas.SetQuotas(ctx, rc, values); err != nil {
		return writeError(c, h.components.Logger, err)
	}

	h.components.Logger.Info("quotas updated", "projects", len(values))

	return c.JSON(http.StatusOK, values)
}

// ListQuotas lists the quota overrides of every project
// GET /api/v1/quotas
func (h *QuotaHandler) ListQuotas(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	quotas, err := h.quotas.ListQuotas(ctx, rc)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"quotas": quotas})
}

// GetProjectQuotas returns the quota overrides of one project
// GET /api/v1/quotas/:project
func (h *QuotaHandler) GetProjectQuotas(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)
	project := c.Param("project")

	quotas, err := h.quotas.GetProjectQuotas(ctx, rc, project)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"project": project,
		"quotas":  quotas,
	})
}
