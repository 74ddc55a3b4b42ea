package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

// mockLedger mimics the transactional ledger: CommitBatch resolves
// offerings from an in-memory catalog, replays the invariant check
// against current committed state, and serialises writers per student
// with a mutex the way the database advisory lock does.
type mockLedger struct {
	mu        sync.Mutex
	catalog   map[string]krs.Offering
	committed map[string][]krs.Offering // studentID -> offerings
	creditCap int
	policy    krs.DuplicatePolicy

	commitErrs []error // consumed before real commits, for retry tests
	commits    int
}

func newMockLedger(cap int, offerings ...krs.Offering) *mockLedger {
	catalog := make(map[string]krs.Offering, len(offerings))
	for _, o := range offerings {
		catalog[o.ScheduleID] = o
	}
	return &mockLedger{
		catalog:   catalog,
		committed: make(map[string][]krs.Offering),
		creditCap: cap,
		policy:    krs.DuplicateReject,
	}
}

func (m *mockLedger) CommitBatch(ctx context.Context, studentID, semester string, scheduleIDs []string, creditCap int, policy krs.DuplicatePolicy) ([]models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.commitErrs) > 0 {
		err := m.commitErrs[0]
		m.commitErrs = m.commitErrs[1:]
		return nil, err
	}

	var requested []krs.Offering
	var missing []string
	for _, id := range scheduleIDs {
		o, ok := m.catalog[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		requested = append(requested, o)
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrScheduleNotFound, map[string]interface{}{"schedule_ids": missing})
	}

	accepted, err := krs.Check(krs.Plan{
		Committed: m.committed[studentID],
		Requested: requested,
		CreditCap: creditCap,
		Policy:    policy,
	})
	if err != nil {
		return nil, err
	}

	m.committed[studentID] = append(m.committed[studentID], accepted...)
	m.commits++
	return m.details(studentID), nil
}

func (m *mockLedger) WithdrawBatch(ctx context.Context, studentID string, scheduleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]struct{}, len(scheduleIDs))
	for _, id := range scheduleIDs {
		drop[id] = struct{}{}
	}
	var kept []krs.Offering
	for _, o := range m.committed[studentID] {
		if _, ok := drop[o.ScheduleID]; !ok {
			kept = append(kept, o)
		}
	}
	m.committed[studentID] = kept
	return nil
}

func (m *mockLedger) ListByStudent(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.details(studentID), nil
}

func (m *mockLedger) FindForStudent(ctx context.Context, studentID string, scheduleIDs []string) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := make(map[string]struct{})
	for _, o := range m.committed[studentID] {
		held[o.ScheduleID] = struct{}{}
	}
	var out []models.Enrollment
	for _, id := range scheduleIDs {
		if _, ok := held[id]; ok {
			out = append(out, models.Enrollment{
				ID:         "enr-" + id,
				StudentID:  studentID,
				ScheduleID: id,
				Semester:   "semester_1",
				Status:     models.EnrollmentStatusCommitted,
			})
		}
	}
	return out, nil
}

func (m *mockLedger) details(studentID string) []models.EnrollmentDetail {
	out := make([]models.EnrollmentDetail, 0, len(m.committed[studentID]))
	for _, o := range m.committed[studentID] {
		out = append(out, models.EnrollmentDetail{
			Enrollment: models.Enrollment{
				ID:         "enr-" + o.ScheduleID,
				StudentID:  studentID,
				ScheduleID: o.ScheduleID,
				Semester:   "semester_1",
				Status:     models.EnrollmentStatusCommitted,
			},
			CourseID:   o.CourseID,
			CourseCode: o.CourseCode,
			Credits:    o.Credits,
		})
	}
	return out
}

type stubStudents struct {
	students map[string]*models.StudentDetail
}

func (s *stubStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if st, ok := s.students[id]; ok {
		return st, nil
	}
	return nil, sql.ErrNoRows
}

type stubTerms struct {
	term *models.Term
}

func (s *stubTerms) FindActiveBySemester(ctx context.Context, semester string) (*models.Term, error) {
	if s.term == nil {
		return nil, sql.ErrNoRows
	}
	return s.term, nil
}

func activeStudent(id string) *stubStudents {
	return &stubStudents{students: map[string]*models.StudentDetail{
		id: {Student: models.Student{ID: id, NIM: "2024010001", Status: models.StudentStatusActive}, FullName: "Budi Santoso"},
	}}
}

func openTerm() *stubTerms {
	now := time.Now().UTC()
	return &stubTerms{term: &models.Term{
		ID:                 "term-1",
		Semester:           "semester_1",
		RegistrationStart:  now.Add(-24 * time.Hour),
		RegistrationEnd:    now.Add(24 * time.Hour),
		WithdrawalDeadline: now.Add(48 * time.Hour),
		IsActive:           true,
	}}
}

func offering(id, courseID string, credits, startMin, endMin int) krs.Offering {
	return krs.Offering{
		ScheduleID: id,
		CourseID:   courseID,
		CourseCode: "C-" + courseID,
		Credits:    credits,
		Day:        "MONDAY",
		StartMin:   startMin,
		EndMin:     endMin,
	}
}

func newTestEnrollmentService(ledger *mockLedger, terms termReader) *EnrollmentService {
	svc := NewEnrollmentService(ledger, activeStudent("st-1"), terms, nil, nil, config.KRSConfig{
		CreditCap:       24,
		DuplicatePolicy: "reject",
		RetryAttempts:   3,
		RetryBackoff:    time.Millisecond,
		TxTimeout:       time.Second,
	}, nil, nil)
	svc.sleep = func(time.Duration) {}
	return svc
}

func TestRegisterCommitsBatch(t *testing.T) {
	ledger := newMockLedger(24,
		offering("s1", "c1", 4, 480, 600),
		offering("s2", "c2", 3, 600, 720),
	)
	svc := newTestEnrollmentService(ledger, openTerm())

	committed, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1", "s2"},
	})
	require.NoError(t, err)
	assert.Len(t, committed, 2)
}

func TestRegisterRejectsOverCap(t *testing.T) {
	ledger := newMockLedger(24,
		offering("s1", "c1", 12, 480, 600),
		offering("s2", "c2", 13, 600, 720),
	)
	svc := newTestEnrollmentService(ledger, openTerm())

	_, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1", "s2"},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCreditCapExceeded.Code, appErr.Code)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 24, details["cap"])
	assert.Equal(t, 25, details["requested"])
	assert.Equal(t, 1, details["overflow"])
	// nothing committed
	remaining, _ := ledger.ListByStudent(context.Background(), "st-1", "")
	assert.Empty(t, remaining)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	ledger := newMockLedger(24,
		offering("s1", "c1", 4, 480, 600),
		offering("s2", "c2", 3, 600, 720),
	)
	svc := newTestEnrollmentService(ledger, openTerm())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{StudentID: "st-1", Semester: "semester_1", ScheduleIDs: []string{"s1"}})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{StudentID: "st-1", Semester: "semester_1", ScheduleIDs: []string{"s1", "s2"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)

	// whole batch rejected: s2 must not have been committed
	remaining, _ := ledger.ListByStudent(ctx, "st-1", "")
	assert.Len(t, remaining, 1)
}

func TestRegisterRejectsTimeConflict(t *testing.T) {
	ledger := newMockLedger(24,
		offering("s1", "c1", 3, 600, 720), // Monday 10:00-12:00
		offering("s2", "c2", 3, 660, 780), // Monday 11:00-13:00
	)
	svc := newTestEnrollmentService(ledger, openTerm())

	_, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1", "s2"},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"s1", "s2"}, details["schedule_ids"])
}

func TestRegisterUnknownScheduleNamesIDs(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 3, 480, 600))
	svc := newTestEnrollmentService(ledger, openTerm())

	_, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1", "ghost"},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleNotFound.Code, appErr.Code)
}

func TestRegisterClosedWindow(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 3, 480, 600))
	closed := openTerm()
	closed.term.RegistrationEnd = time.Now().UTC().Add(-time.Hour)
	svc := newTestEnrollmentService(ledger, closed)

	_, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRegistrationClosed.Code, appErrors.FromError(err).Code)
}

func TestRegisterInactiveStudent(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 3, 480, 600))
	svc := newTestEnrollmentService(ledger, openTerm())
	svc.students = &stubStudents{students: map[string]*models.StudentDetail{
		"st-1": {Student: models.Student{ID: "st-1", Status: models.StudentStatusInactive}},
	}}

	_, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRegisterRetriesTransientFailures(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 3, 480, 600))
	ledger.commitErrs = []error{appErrors.ErrConcurrencyConflict, appErrors.ErrStorageUnavailable}
	svc := newTestEnrollmentService(ledger, openTerm())

	committed, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1"},
	})
	require.NoError(t, err)
	assert.Len(t, committed, 1)
	assert.Equal(t, 1, ledger.commits)
}

func TestRegisterGivesUpAfterRetryBudget(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 3, 480, 600))
	ledger.commitErrs = []error{
		appErrors.ErrConcurrencyConflict,
		appErrors.ErrConcurrencyConflict,
		appErrors.ErrConcurrencyConflict,
	}
	svc := newTestEnrollmentService(ledger, openTerm())

	_, err := svc.Register(context.Background(), RegisterRequest{
		StudentID:   "st-1",
		Semester:    "semester_1",
		ScheduleIDs: []string{"s1"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
	assert.Equal(t, 0, ledger.commits)
}

func TestConcurrentDoubleSubmitCommitsOnce(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 3, 480, 600))
	svc := newTestEnrollmentService(ledger, openTerm())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(ctx, RegisterRequest{
				StudentID:   "st-1",
				Semester:    "semester_1",
				ScheduleIDs: []string{"s1"},
			})
		}(i)
	}
	wg.Wait()

	var okCount, dupCount int
	for _, err := range errs {
		if err == nil {
			okCount++
		} else if appErrors.FromError(err).Code == appErrors.ErrDuplicateEnrollment.Code {
			dupCount++
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, dupCount)

	remaining, _ := ledger.ListByStudent(ctx, "st-1", "")
	assert.Len(t, remaining, 1)
}

func TestWithdrawThenReRegister(t *testing.T) {
	ledger := newMockLedger(24,
		offering("s1", "c1", 4, 480, 600),
		offering("s2", "c2", 3, 600, 720),
	)
	svc := newTestEnrollmentService(ledger, openTerm())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{StudentID: "st-1", Semester: "semester_1", ScheduleIDs: []string{"s1", "s2"}})
	require.NoError(t, err)

	remaining, err := svc.Withdraw(ctx, WithdrawRequest{StudentID: "st-1", ScheduleIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	// the slot is free again
	committed, err := svc.Register(ctx, RegisterRequest{StudentID: "st-1", Semester: "semester_1", ScheduleIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Len(t, committed, 2)
}

func TestWithdrawNotEnrolled(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 4, 480, 600))
	svc := newTestEnrollmentService(ledger, openTerm())

	_, err := svc.Withdraw(context.Background(), WithdrawRequest{StudentID: "st-1", ScheduleIDs: []string{"s1"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestWithdrawAfterDeadline(t *testing.T) {
	ledger := newMockLedger(24, offering("s1", "c1", 4, 480, 600))
	terms := openTerm()
	svc := newTestEnrollmentService(ledger, terms)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{StudentID: "st-1", Semester: "semester_1", ScheduleIDs: []string{"s1"}})
	require.NoError(t, err)

	terms.term.WithdrawalDeadline = time.Now().UTC().Add(-time.Hour)
	_, err = svc.Withdraw(ctx, WithdrawRequest{StudentID: "st-1", ScheduleIDs: []string{"s1"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrWithdrawalWindowClosed.Code, appErrors.FromError(err).Code)
}
