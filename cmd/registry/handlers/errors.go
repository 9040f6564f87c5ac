package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/logger"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindBadRequest: http.StatusBadRequest,
	apperr.KindForbidden:  http.StatusForbidden,
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindConflict:   http.StatusConflict,
	apperr.KindTooLarge:   http.StatusRequestEntityTooLarge,
}

// writeError renders a domain error as the matching HTTP status.
// Anything unclassified is a 500 with the details kept server-side.
func writeError(c echo.Context, log *logger.Logger, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		status, ok := kindStatus[ae.Kind()]
		if !ok {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, map[string]any{"error": ae.Error()})
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, map[string]any{"error": he.Message})
	}

	log.Error("internal error", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": "internal server error",
	})
}
