package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentDetailRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "schedule_id", "semester", "status", "grade",
		"committed_at", "validated_at", "updated_at",
		"course_id", "course_code", "course_name", "credits",
		"day_of_week", "start_time", "end_time", "room",
	})
}

func TestEnrollmentRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := enrollmentDetailRows().
		AddRow("enr-1", "st-1", "sch-1", "semester_1", models.EnrollmentStatusCommitted, nil,
			now, nil, now, "crs-1", "IF101", "Algoritma", 4, "MONDAY", "08:00", "10:00", "R-101")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_id = $1 AND e.status <> $2 AND e.semester = $3")).
		WithArgs("st-1", models.EnrollmentStatusRejected, "semester_1").
		WillReturnRows(rows)

	details, err := repo.ListByStudent(context.Background(), "st-1", "semester_1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.Equal(t, "IF101", details[0].CourseCode)
	require.Equal(t, 4, details[0].Credits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindForStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "schedule_id", "semester", "status", "grade", "committed_at", "validated_at", "updated_at"}).
		AddRow("enr-1", "st-1", "sch-1", "semester_1", models.EnrollmentStatusCommitted, nil, now, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE student_id = $1 AND schedule_id IN ($2,$3)")).
		WithArgs("st-1", "sch-1", "sch-2").
		WillReturnRows(rows)

	enrollments, err := repo.FindForStudent(context.Background(), "st-1", []string{"sch-1", "sch-2"})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.Equal(t, "sch-1", enrollments[0].ScheduleID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetGrade(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET grade = $2, updated_at = $3 WHERE id = $1 AND grade IS NULL")).
		WithArgs("enr-1", 87.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetGrade(context.Background(), "enr-1", 87.5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetGradeOnlyOnce(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND grade IS NULL")).
		WithArgs("enr-1", 90.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetGrade(context.Background(), "enr-1", 90)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrAlreadyGraded.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListGraded(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	grade := 87.5
	rows := sqlmock.NewRows([]string{"course_code", "course_name", "credits", "semester", "grade"}).
		AddRow("IF101", "Algoritma", 4, "semester_1", grade)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_id = $1 AND e.grade IS NOT NULL AND e.status <> $2")).
		WithArgs("st-1", models.EnrollmentStatusRejected).
		WillReturnRows(rows)

	graded, err := repo.ListGraded(context.Background(), "st-1")
	require.NoError(t, err)
	require.Len(t, graded, 1)
	require.NotNil(t, graded[0].Grade)
	require.Equal(t, grade, *graded[0].Grade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApplyVerdicts(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	validatedAt := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, validated_at = $3, updated_at = $3 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusValidated, validatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, validated_at = $3, updated_at = $3 WHERE id = $1")).
		WithArgs("enr-2", models.EnrollmentStatusRejected, validatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ApplyVerdicts(context.Background(), []models.ValidationVerdict{
		{EnrollmentID: "enr-1", Status: models.EnrollmentStatusValidated},
		{EnrollmentID: "enr-2", Status: models.EnrollmentStatusRejected},
	}, validatedAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryWithdrawBatchMissingRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("krs:student:st-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	removed := sqlmock.NewRows([]string{"schedule_id"}).AddRow("sch-1")
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1 AND schedule_id IN ($2,$3) RETURNING schedule_id")).
		WithArgs("st-1", "sch-1", "sch-2").
		WillReturnRows(removed)
	mock.ExpectRollback()

	err := repo.WithdrawBatch(context.Background(), "st-1", []string{"sch-1", "sch-2"})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrNotEnrolled.Code, appErr.Code)
	details := appErr.Details.(map[string]interface{})
	require.Equal(t, []string{"sch-2"}, details["schedule_ids"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryWithdrawBatch(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("krs:student:st-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	removed := sqlmock.NewRows([]string{"schedule_id"}).AddRow("sch-1").AddRow("sch-2")
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM enrollments WHERE student_id = $1 AND schedule_id IN ($2,$3) RETURNING schedule_id")).
		WithArgs("st-1", "sch-1", "sch-2").
		WillReturnRows(removed)
	mock.ExpectCommit()

	err := repo.WithdrawBatch(context.Background(), "st-1", []string{"sch-1", "sch-2"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
