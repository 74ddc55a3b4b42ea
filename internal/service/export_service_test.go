package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
	"github.com/sister-kampus/sister-api/pkg/storage"
)

type mockExportLedger struct {
	details []models.EnrollmentDetail
	graded  []models.TranscriptRow
}

func (m *mockExportLedger) ListByStudent(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error) {
	return m.details, nil
}

func (m *mockExportLedger) ListGraded(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	return m.graded, nil
}

func newTestExportService(t *testing.T, ledger *mockExportLedger) *ExportService {
	t.Helper()
	archive, err := storage.NewArchive(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewShareSigner("test-secret", time.Hour)
	return NewExportService(ledger, activeStudent("st-1"), archive, signer, nil)
}

func cardDetail(scheduleID, code string, credits int) models.EnrollmentDetail {
	return models.EnrollmentDetail{
		Enrollment: models.Enrollment{
			ID:         "enr-" + scheduleID,
			StudentID:  "st-1",
			ScheduleID: scheduleID,
			Semester:   "semester_1",
			Status:     models.EnrollmentStatusCommitted,
		},
		CourseCode: code,
		CourseName: "Course " + code,
		Credits:    credits,
		DayOfWeek:  models.DayMonday,
		StartTime:  "08:00",
		EndTime:    "10:00",
		Room:       "R-101",
	}
}

func TestStudyPlanCardCSV(t *testing.T) {
	ledger := &mockExportLedger{details: []models.EnrollmentDetail{
		cardDetail("sch-1", "IF101", 4),
		cardDetail("sch-2", "MA101", 3),
	}}
	svc := newTestExportService(t, ledger)

	result, err := svc.StudyPlanCard(context.Background(), "st-1", "semester_1", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "krs_2024010001_semester_1.csv", result.FileName)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, string(result.Content), "IF101")
	assert.Contains(t, string(result.Content), "Total credits")
	assert.Contains(t, string(result.Content), "7")
}

func TestStudyPlanCardIssuesShareLink(t *testing.T) {
	ledger := &mockExportLedger{details: []models.EnrollmentDetail{cardDetail("sch-1", "IF101", 4)}}
	svc := newTestExportService(t, ledger)

	result, err := svc.StudyPlanCard(context.Background(), "st-1", "semester_1", ExportFormatCSV)
	require.NoError(t, err)
	require.NotEmpty(t, result.ShareToken)
	assert.False(t, result.ShareExpiresAt.IsZero())

	shared, err := svc.SharedDocument(result.ShareToken)
	require.NoError(t, err)
	assert.Equal(t, result.FileName, shared.FileName)
	assert.Equal(t, result.Content, shared.Content)
}

func TestStudyPlanCardEmptySemester(t *testing.T) {
	svc := newTestExportService(t, &mockExportLedger{})

	_, err := svc.StudyPlanCard(context.Background(), "st-1", "semester_1", ExportFormatPDF)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestTranscriptExportPDF(t *testing.T) {
	grade := 87.5
	ledger := &mockExportLedger{graded: []models.TranscriptRow{
		{CourseCode: "IF101", CourseName: "Algoritma", Credits: 4, Semester: "semester_1", Grade: &grade},
	}}
	svc := newTestExportService(t, ledger)

	result, err := svc.TranscriptExport(context.Background(), "st-1", ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "transcript_2024010001.pdf", result.FileName)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.NotEmpty(t, result.Content)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	ledger := &mockExportLedger{details: []models.EnrollmentDetail{cardDetail("sch-1", "IF101", 4)}}
	svc := newTestExportService(t, ledger)

	_, err := svc.StudyPlanCard(context.Background(), "st-1", "semester_1", "xlsx")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSharedDocumentRejectsBadToken(t *testing.T) {
	svc := newTestExportService(t, &mockExportLedger{})

	_, err := svc.SharedDocument("not.a.token")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}
