package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
)

type mockGradedLedger struct {
	rows  []models.TranscriptRow
	calls int
}

func (m *mockGradedLedger) ListGraded(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	m.calls++
	return m.rows, nil
}

func gradePtr(v float64) *float64 { return &v }

func TestComputeGPAWeightsByCredits(t *testing.T) {
	ledger := &mockGradedLedger{rows: []models.TranscriptRow{
		{CourseCode: "IF101", Credits: 3, Grade: gradePtr(75)},  // 3.0
		{CourseCode: "MA101", Credits: 4, Grade: gradePtr(100)}, // 4.0
	}}
	svc := NewTranscriptService(ledger, nil, config.GPAConfig{}, nil)

	report, err := svc.ComputeGPA(context.Background(), "st-1")
	require.NoError(t, err)
	// (3*3.0 + 4*4.0) / 7 = 3.5714... -> 3.57
	assert.Equal(t, 3.57, report.GPA)
	assert.True(t, report.HasGrades)
	assert.Equal(t, 7, report.TotalCredits)
}

func TestComputeGPANoGrades(t *testing.T) {
	ledger := &mockGradedLedger{rows: []models.TranscriptRow{
		{CourseCode: "IF101", Credits: 3, Grade: nil},
	}}
	svc := NewTranscriptService(ledger, nil, config.GPAConfig{}, nil)

	report, err := svc.ComputeGPA(context.Background(), "st-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.GPA)
	assert.False(t, report.HasGrades)
	assert.Equal(t, 0, report.TotalCredits)
}

func TestTranscriptAttachesGradePoints(t *testing.T) {
	ledger := &mockGradedLedger{rows: []models.TranscriptRow{
		{CourseCode: "IF101", Credits: 3, Grade: gradePtr(87.5)},
		{CourseCode: "MA101", Credits: 4, Grade: nil},
	}}
	svc := NewTranscriptService(ledger, nil, config.GPAConfig{}, nil)

	rows, err := svc.Transcript(context.Background(), "st-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3.5, rows[0].GradePoint)
	assert.Equal(t, 0.0, rows[1].GradePoint)
}
