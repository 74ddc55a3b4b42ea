package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/internal/service"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
	"github.com/sister-kampus/sister-api/pkg/response"
)

// EnrollmentHandler exposes the registration engine over HTTP.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	validation  *service.ValidationService
	grades      *service.GradeService
	exports     *service.ExportService
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, validation *service.ValidationService, grades *service.GradeService, exports *service.ExportService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, validation: validation, grades: grades, exports: exports}
}

type registerPayload struct {
	StudentID   string   `json:"student_id"`
	Semester    string   `json:"semester"`
	ScheduleIDs []string `json:"schedule_ids"`
}

// Register godoc
// @Summary Register a KRS batch
// @Description Commit a candidate schedule batch atomically
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body registerPayload true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollment/register [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	var payload registerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	studentID, err := h.resolveStudentID(c, payload.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	committed, err := h.enrollments.Register(c.Request.Context(), service.RegisterRequest{
		StudentID:   studentID,
		Semester:    payload.Semester,
		ScheduleIDs: payload.ScheduleIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, committed)
}

type withdrawPayload struct {
	StudentID   string   `json:"student_id"`
	ScheduleIDs []string `json:"schedule_ids"`
}

// Withdraw godoc
// @Summary Withdraw enrollments
// @Description Remove the named enrollments all-or-nothing
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body withdrawPayload true "Withdrawal payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollment [delete]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	var payload withdrawPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	studentID, err := h.resolveStudentID(c, payload.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	remaining, err := h.enrollments.Withdraw(c.Request.Context(), service.WithdrawRequest{
		StudentID:   studentID,
		ScheduleIDs: payload.ScheduleIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, remaining, nil)
}

// ListForStudent godoc
// @Summary Committed enrollments for a student
// @Tags Enrollment
// @Produce json
// @Param id path string true "Student ID"
// @Param semester query string false "Semester filter"
// @Success 200 {object} response.Envelope
// @Router /enrollment/student/{id} [get]
func (h *EnrollmentHandler) ListForStudent(c *gin.Context) {
	details, err := h.enrollments.GetStudentEnrollments(c.Request.Context(), c.Param("id"), c.Query("semester"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, nil)
}

// Card godoc
// @Summary Download the study plan card
// @Tags Enrollment
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param semester query string true "Semester"
// @Param format query string false "pdf or csv"
// @Success 200 {file} binary
// @Router /enrollment/student/{id}/card [get]
func (h *EnrollmentHandler) Card(c *gin.Context) {
	semester := c.Query("semester")
	if semester == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "semester is required"))
		return
	}
	result, err := h.exports.StudyPlanCard(c.Request.Context(), c.Param("id"), semester, service.ExportFormat(c.DefaultQuery("format", "pdf")))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeDocument(c, result)
}

type validatePayload struct {
	StudentID string `json:"student_id" binding:"required"`
	Semester  string `json:"semester" binding:"required"`
}

// Validate godoc
// @Summary Audit a committed set
// @Description Re-audit a student's committed enrollments and persist verdicts
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body validatePayload true "Validation payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollment/validate [post]
func (h *EnrollmentHandler) Validate(c *gin.Context) {
	var payload validatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.validation.ValidateBatch(c.Request.Context(), payload.StudentID, payload.Semester)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

type gradePayload struct {
	Grade float64 `json:"grade"`
}

// SetGrade godoc
// @Summary Record a grade
// @Description Write the raw 0-100 score for one enrollment, once
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body gradePayload true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment/{id}/grade [put]
func (h *EnrollmentHandler) SetGrade(c *gin.Context) {
	var payload gradePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.grades.SetGrade(c.Request.Context(), service.GradeRequest{
		EnrollmentID: c.Param("id"),
		Grade:        payload.Grade,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// resolveStudentID binds the acting student to the token. Students act
// only for themselves; staff must name a student explicitly.
func (h *EnrollmentHandler) resolveStudentID(c *gin.Context, requested string) (string, error) {
	claims := currentClaims(c)
	if claims == nil {
		return "", appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent {
		if claims.StudentID == "" {
			return "", appErrors.Clone(appErrors.ErrForbidden, "no student profile bound to account")
		}
		if requested != "" && requested != claims.StudentID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students may only register for themselves")
		}
		return claims.StudentID, nil
	}
	if requested == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	return requested, nil
}
