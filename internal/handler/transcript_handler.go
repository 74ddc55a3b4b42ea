package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sister-kampus/sister-api/internal/service"
	"github.com/sister-kampus/sister-api/pkg/response"
)

// TranscriptHandler exposes GPA and transcript reads.
type TranscriptHandler struct {
	transcripts *service.TranscriptService
	exports     *service.ExportService
}

// NewTranscriptHandler constructs a transcript handler.
func NewTranscriptHandler(transcripts *service.TranscriptService, exports *service.ExportService) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts, exports: exports}
}

// GPA godoc
// @Summary Cumulative GPA
// @Description Credit-weighted GPA over all graded enrollments
// @Tags Transcript
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/gpa [get]
func (h *TranscriptHandler) GPA(c *gin.Context) {
	report, err := h.transcripts.ComputeGPA(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Transcript godoc
// @Summary Graded transcript
// @Tags Transcript
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/transcript [get]
func (h *TranscriptHandler) Transcript(c *gin.Context) {
	studentID := c.Param("id")
	rows, err := h.transcripts.Transcript(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.transcripts.ComputeGPA(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"rows": rows, "summary": report}, nil)
}

// Export godoc
// @Summary Download the transcript
// @Tags Transcript
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param format query string false "pdf or csv"
// @Success 200 {file} binary
// @Router /students/{id}/transcript/export [get]
func (h *TranscriptHandler) Export(c *gin.Context) {
	result, err := h.exports.TranscriptExport(c.Request.Context(), c.Param("id"), service.ExportFormat(c.DefaultQuery("format", "pdf")))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeDocument(c, result)
}
