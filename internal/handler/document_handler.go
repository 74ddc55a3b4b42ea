package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sister-kampus/sister-api/internal/service"
	"github.com/sister-kampus/sister-api/pkg/response"
)

// DocumentHandler serves archived documents through share links. The
// token carries its own HMAC grant, so the route needs no session.
type DocumentHandler struct {
	exports *service.ExportService
}

// NewDocumentHandler constructs a document handler.
func NewDocumentHandler(exports *service.ExportService) *DocumentHandler {
	return &DocumentHandler{exports: exports}
}

// Download godoc
// @Summary Download a shared document
// @Description Resolve a share token to its archived study plan card or transcript
// @Tags Documents
// @Produce application/pdf
// @Param token path string true "Share token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{token} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	result, err := h.exports.SharedDocument(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeDocument(c, result)
}

// writeDocument streams a rendered export, exposing the share link
// headers when archiving is enabled.
func writeDocument(c *gin.Context, result *service.ExportResult) {
	c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	if result.ShareToken != "" {
		c.Header("X-Share-Token", result.ShareToken)
		c.Header("X-Share-Expires", result.ShareExpiresAt.UTC().Format(time.RFC3339))
	}
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
