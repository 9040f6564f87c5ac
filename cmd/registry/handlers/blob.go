package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/openartifacts/registry/cmd/registry/container"
	"github.com/openartifacts/registry/cmd/registry/middleware"
	"github.com/openartifacts/registry/common/apperr"
	"github.com/openartifacts/registry/common/bootstrap"
	"github.com/openartifacts/registry/common/store"

	"github.com/openartifacts/registry/cmd/registry/service"
)

// locationMediaType marks a PUT body carrying an external blob
// location document instead of payload bytes
const locationMediaType = "application/vnd.registry-custom-location+json"

// BlobHandler handles blob upload, download and location requests
type BlobHandler struct {
	components *bootstrap.Components
	blobs      *service.BlobService
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(c *container.Container) *BlobHandler {
	return &BlobHandler{
		components: c.Components,
		blobs:      c.BlobService,
	}
}

// blobKeyParam returns the folder key path param, nil for scalar blobs
func blobKeyParam(c echo.Context) *string {
	if key := c.Param("key"); key != "" {
		return &key
	}
	return nil
}

// PutBlob uploads blob bytes, or attaches an external location when
// the body carries the custom location media type
// PUT /api/v1/artifacts/:type/:id/:field
// PUT /api/v1/artifacts/:type/:id/:field/:key
func (h *BlobHandler) PutBlob(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)
	typeName, id, field := c.Param("type"), c.Param("id"), c.Param("field")
	key := blobKeyParam(c)

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, locationMediaType) {
		return h.addLocation(c, typeName, id, field, key)
	}

	var contentLength *int64
	if cl := c.Request().ContentLength; cl >= 0 {
		contentLength = &cl
	}

	af, err := h.blobs.Upload(ctx, rc, typeName, id, field, key,
		c.Request().Body, contentType, contentLength)
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	h.components.Logger.Info("blob uploaded",
		"type", typeName, "id", id, "field", field)

	return c.JSON(http.StatusOK, af)
}

// addLocation parses the location document and attaches the external
// url to the blob field
func (h *BlobHandler) addLocation(c echo.Context, typeName, id, field string, key *string) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	var doc struct {
		URL    string `json:"url"`
		MD5    string `json:"md5"`
		SHA1   string `json:"sha1"`
		SHA256 string `json:"sha256"`
	}
	if err := c.Bind(&doc); err != nil {
		return writeError(c, h.components.Logger, apperr.BadRequest("invalid location document"))
	}

	af, err := h.blobs.AddLocation(ctx, rc, typeName, id, field, key,
		doc.URL, store.Digests{MD5: doc.MD5, SHA1: doc.SHA1, SHA256: doc.SHA256})
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	h.components.Logger.Info("blob location added",
		"type", typeName, "id", id, "field", field, "url", doc.URL)

	return c.JSON(http.StatusOK, af)
}

// DownloadBlob streams blob bytes back, or redirects to the external
// location for location-backed blobs
// GET /api/v1/artifacts/:type/:id/:field
// GET /api/v1/artifacts/:type/:id/:field/:key
func (h *BlobHandler) DownloadBlob(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	reader, blob, err := h.blobs.Download(ctx, rc,
		c.Param("type"), c.Param("id"), c.Param("field"), blobKeyParam(c))
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}

	if blob.External {
		return c.Redirect(http.StatusFound, *blob.URL)
	}
	defer reader.Close()

	if blob.SHA256 != nil {
		c.Response().Header().Set("Content-Sha256", *blob.SHA256)
	}
	return c.Stream(http.StatusOK, blob.ContentType, reader)
}

// DeleteBlob detaches an external blob location
// DELETE /api/v1/artifacts/:type/:id/:field
// DELETE /api/v1/artifacts/:type/:id/:field/:key
func (h *BlobHandler) DeleteBlob(c echo.Context) error {
	ctx := c.Request().Context()
	rc := middleware.GetRequestContext(c)

	af, err := h.blobs.DeleteExternal(ctx, rc,
		c.Param("type"), c.Param("id"), c.Param("field"), blobKeyParam(c))
	if err != nil {
		return writeError(c, h.components.Logger, err)
	}
	return c.JSON(http.StatusOK, af)
}
