package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
)

type mockCommittedLedger struct {
	offerings []krs.Offering
	details   []models.EnrollmentDetail
	applied   []models.ValidationVerdict
}

func (m *mockCommittedLedger) CommittedOfferings(ctx context.Context, studentID, semester string) ([]krs.Offering, []models.EnrollmentDetail, error) {
	return m.offerings, m.details, nil
}

func (m *mockCommittedLedger) ApplyVerdicts(ctx context.Context, verdicts []models.ValidationVerdict, validatedAt time.Time) error {
	m.applied = verdicts
	return nil
}

type mockNotifier struct {
	notices []models.ValidationVerdict
}

func (m *mockNotifier) EnqueueRejection(ctx context.Context, studentID string, verdict models.ValidationVerdict) error {
	m.notices = append(m.notices, verdict)
	return nil
}

func committedSet(offerings ...krs.Offering) *mockCommittedLedger {
	ledger := &mockCommittedLedger{offerings: offerings}
	for _, o := range offerings {
		ledger.details = append(ledger.details, models.EnrollmentDetail{
			Enrollment: models.Enrollment{
				ID:         "enr-" + o.ScheduleID,
				ScheduleID: o.ScheduleID,
				Status:     models.EnrollmentStatusCommitted,
			},
			CourseCode: o.CourseCode,
			Credits:    o.Credits,
		})
	}
	return ledger
}

func TestValidateBatchAllClean(t *testing.T) {
	ledger := committedSet(
		offering("s1", "c1", 4, 480, 600),
		offering("s2", "c2", 3, 600, 720),
	)
	svc := NewValidationService(ledger, nil, nil, config.KRSConfig{CreditCap: 24, DuplicatePolicy: "reject"}, nil)

	report, err := svc.ValidateBatch(context.Background(), "st-1", "semester_1")
	require.NoError(t, err)
	assert.Equal(t, 7, report.TotalCredits)
	require.Len(t, report.Verdicts, 2)
	for _, v := range report.Verdicts {
		assert.Equal(t, models.EnrollmentStatusValidated, v.Status)
		assert.Empty(t, v.Reason)
	}
	assert.Len(t, ledger.applied, 2)
}

func TestValidateBatchRejectsDriftedConflict(t *testing.T) {
	// A catalog correction moved s2 onto s1's slot after both committed.
	ledger := committedSet(
		offering("s1", "c1", 3, 600, 720),
		offering("s2", "c2", 3, 660, 780),
	)
	notifier := &mockNotifier{}
	svc := NewValidationService(ledger, nil, notifier, config.KRSConfig{CreditCap: 24, DuplicatePolicy: "reject"}, nil)

	report, err := svc.ValidateBatch(context.Background(), "st-1", "semester_1")
	require.NoError(t, err)

	byID := make(map[string]models.ValidationVerdict)
	for _, v := range report.Verdicts {
		byID[v.ScheduleID] = v
	}
	assert.Equal(t, models.EnrollmentStatusValidated, byID["s1"].Status)
	assert.Equal(t, models.EnrollmentStatusRejected, byID["s2"].Status)
	assert.NotEmpty(t, byID["s2"].Reason)

	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "enr-s2", notifier.notices[0].EnrollmentID)
}

func TestValidateBatchRejectsCapOverflowTail(t *testing.T) {
	// A credit-weight correction pushed the committed set to 26.
	ledger := committedSet(
		offering("s1", "c1", 12, 480, 600),
		offering("s2", "c2", 10, 600, 720),
		offering("s3", "c3", 4, 720, 840),
	)
	svc := NewValidationService(ledger, nil, nil, config.KRSConfig{CreditCap: 24, DuplicatePolicy: "reject"}, nil)

	report, err := svc.ValidateBatch(context.Background(), "st-1", "semester_1")
	require.NoError(t, err)

	byID := make(map[string]models.ValidationVerdict)
	for _, v := range report.Verdicts {
		byID[v.ScheduleID] = v
	}
	assert.Equal(t, models.EnrollmentStatusValidated, byID["s1"].Status)
	assert.Equal(t, models.EnrollmentStatusValidated, byID["s2"].Status)
	assert.Equal(t, models.EnrollmentStatusRejected, byID["s3"].Status)
	assert.Equal(t, 22, report.TotalCredits)
}

func TestValidateBatchEmptySet(t *testing.T) {
	svc := NewValidationService(&mockCommittedLedger{}, nil, nil, config.KRSConfig{CreditCap: 24}, nil)
	_, err := svc.ValidateBatch(context.Background(), "st-1", "semester_1")
	require.Error(t, err)
}
