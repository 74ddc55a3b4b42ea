package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/middleware"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/internal/service"
	"github.com/sister-kampus/sister-api/pkg/config"
)

type enrollmentLedgerMock struct {
	lastStudentID   string
	lastScheduleIDs []string
	committed       []models.EnrollmentDetail
}

func (m *enrollmentLedgerMock) CommitBatch(ctx context.Context, studentID, semester string, scheduleIDs []string, creditCap int, policy krs.DuplicatePolicy) ([]models.EnrollmentDetail, error) {
	m.lastStudentID = studentID
	m.lastScheduleIDs = scheduleIDs
	return m.committed, nil
}

func (m *enrollmentLedgerMock) WithdrawBatch(ctx context.Context, studentID string, scheduleIDs []string) error {
	return nil
}

func (m *enrollmentLedgerMock) ListByStudent(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error) {
	return m.committed, nil
}

func (m *enrollmentLedgerMock) FindForStudent(ctx context.Context, studentID string, scheduleIDs []string) ([]models.Enrollment, error) {
	return nil, nil
}

type auditLedgerMock struct {
	offerings []krs.Offering
	details   []models.EnrollmentDetail
	applied   []models.ValidationVerdict
}

func (m *auditLedgerMock) CommittedOfferings(ctx context.Context, studentID, semester string) ([]krs.Offering, []models.EnrollmentDetail, error) {
	return m.offerings, m.details, nil
}

func (m *auditLedgerMock) ApplyVerdicts(ctx context.Context, verdicts []models.ValidationVerdict, validatedAt time.Time) error {
	m.applied = verdicts
	return nil
}

type activeStudentMock struct{}

func (activeStudentMock) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if id != "st-1" {
		return nil, sql.ErrNoRows
	}
	return &models.StudentDetail{
		Student:  models.Student{ID: "st-1", NIM: "2024010001", Status: models.StudentStatusActive},
		FullName: "Budi Santoso",
	}, nil
}

type openTermMock struct{}

func (openTermMock) FindActiveBySemester(ctx context.Context, semester string) (*models.Term, error) {
	now := time.Now().UTC()
	return &models.Term{
		ID:                 "term-1",
		Semester:           semester,
		RegistrationStart:  now.Add(-24 * time.Hour),
		RegistrationEnd:    now.Add(24 * time.Hour),
		WithdrawalDeadline: now.Add(48 * time.Hour),
		IsActive:           true,
	}, nil
}

func testKRSConfig() config.KRSConfig {
	return config.KRSConfig{
		CreditCap:       24,
		DuplicatePolicy: "reject",
		RetryAttempts:   1,
		RetryBackoff:    time.Millisecond,
		TxTimeout:       time.Second,
	}
}

func newEnrollmentTestHandler(ledger *enrollmentLedgerMock, audit *auditLedgerMock) *EnrollmentHandler {
	enrollments := service.NewEnrollmentService(ledger, activeStudentMock{}, openTermMock{}, nil, nil, testKRSConfig(), nil, nil)
	var validation *service.ValidationService
	if audit != nil {
		validation = service.NewValidationService(audit, nil, nil, testKRSConfig(), nil)
	}
	return NewEnrollmentHandler(enrollments, validation, nil, nil)
}

func postJSON(t *testing.T, path, body string, claims *models.JWTClaims) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return w, c
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	envelope := decodeEnvelope(t, w)
	errObj, ok := envelope["error"].(map[string]interface{})
	require.True(t, ok, "response carries no error object: %s", w.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func TestEnrollmentHandlerRegisterBindsStudentToToken(t *testing.T) {
	ledger := &enrollmentLedgerMock{committed: []models.EnrollmentDetail{{
		Enrollment: models.Enrollment{ID: "enr-s1", StudentID: "st-1", ScheduleID: "s1", Semester: "semester_1", Status: models.EnrollmentStatusCommitted},
		CourseCode: "IF101",
		Credits:    3,
	}}}
	handler := newEnrollmentTestHandler(ledger, nil)

	w, c := postJSON(t, "/enrollment/register", `{"semester":"semester_1","schedule_ids":["s1"]}`,
		&models.JWTClaims{UserID: "u-student", Role: models.RoleStudent, StudentID: "st-1"})

	handler.Register(c)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "st-1", ledger.lastStudentID)
	assert.Equal(t, []string{"s1"}, ledger.lastScheduleIDs)

	envelope := decodeEnvelope(t, w)
	assert.Nil(t, envelope["error"])
	assert.NotNil(t, envelope["data"])
}

func TestEnrollmentHandlerRegisterStudentForOther(t *testing.T) {
	ledger := &enrollmentLedgerMock{}
	handler := newEnrollmentTestHandler(ledger, nil)

	w, c := postJSON(t, "/enrollment/register", `{"student_id":"st-2","semester":"semester_1","schedule_ids":["s1"]}`,
		&models.JWTClaims{UserID: "u-student", Role: models.RoleStudent, StudentID: "st-1"})

	handler.Register(c)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))
	assert.Empty(t, ledger.lastStudentID)
}

func TestEnrollmentHandlerRegisterStaffRequiresStudentID(t *testing.T) {
	handler := newEnrollmentTestHandler(&enrollmentLedgerMock{}, nil)

	w, c := postJSON(t, "/enrollment/register", `{"semester":"semester_1","schedule_ids":["s1"]}`,
		&models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin})

	handler.Register(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestEnrollmentHandlerRegisterInvalidBody(t *testing.T) {
	handler := newEnrollmentTestHandler(&enrollmentLedgerMock{}, nil)

	w, c := postJSON(t, "/enrollment/register", `{"semester":"semester_1"`,
		&models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin})

	handler.Register(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestEnrollmentHandlerRegisterWithoutClaims(t *testing.T) {
	handler := newEnrollmentTestHandler(&enrollmentLedgerMock{}, nil)

	w, c := postJSON(t, "/enrollment/register", `{"semester":"semester_1","schedule_ids":["s1"]}`, nil)

	handler.Register(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
}

func TestEnrollmentHandlerValidateReportsVerdicts(t *testing.T) {
	audit := &auditLedgerMock{
		offerings: []krs.Offering{{
			ScheduleID: "s1", CourseID: "c1", CourseCode: "IF101", Credits: 3,
			Day: models.DayMonday, StartMin: 480, EndMin: 600,
		}},
		details: []models.EnrollmentDetail{{
			Enrollment: models.Enrollment{ID: "enr-s1", StudentID: "st-1", ScheduleID: "s1", Semester: "semester_1", Status: models.EnrollmentStatusCommitted},
			CourseCode: "IF101",
			Credits:    3,
		}},
	}
	handler := newEnrollmentTestHandler(&enrollmentLedgerMock{}, audit)

	w, c := postJSON(t, "/enrollment/validate", `{"student_id":"st-1","semester":"semester_1"}`,
		&models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin})

	handler.Validate(c)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, audit.applied, 1)
	assert.Equal(t, models.EnrollmentStatusValidated, audit.applied[0].Status)

	envelope := decodeEnvelope(t, w)
	data, ok := envelope["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "st-1", data["student_id"])
}

func TestEnrollmentHandlerValidateMissingSemester(t *testing.T) {
	audit := &auditLedgerMock{}
	handler := newEnrollmentTestHandler(&enrollmentLedgerMock{}, audit)

	w, c := postJSON(t, "/enrollment/validate", `{"student_id":"st-1"}`,
		&models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin})

	handler.Validate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
	assert.Empty(t, audit.applied)
}
