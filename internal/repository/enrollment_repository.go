package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

const enrollmentDetailColumns = `e.id, e.student_id, e.schedule_id, e.semester, e.status, e.grade,
        e.committed_at, e.validated_at, e.updated_at,
        s.course_id, c.code AS course_code, c.name AS course_name, c.credits,
        s.day_of_week, s.start_time, s.end_time, s.room`

const enrollmentDetailJoin = `FROM enrollments e
        JOIN schedules s ON s.id = e.schedule_id
        JOIN courses c ON c.id = s.course_id`

// EnrollmentRepository is the ledger: the system of record for committed
// registrations. Register and Withdraw run inside a single transaction
// holding a per-student advisory lock, so concurrent submissions for one
// student serialize and every invariant is checked against the state the
// write will land on.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListByStudent returns the active (non-rejected) registrations with
// nested schedule and course detail, ordered by commit time.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE e.student_id = $1 AND e.status <> $2`, enrollmentDetailColumns, enrollmentDetailJoin)
	args := []interface{}{studentID, models.EnrollmentStatusRejected}
	if semester != "" {
		query += " AND e.semester = $3"
		args = append(args, semester)
	}
	query += " ORDER BY e.committed_at, e.id"

	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, mapStorageErr(err, "list enrollments")
	}
	return details, nil
}

// FindByID returns a single enrollment row.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, schedule_id, semester, status, grade, committed_at, validated_at, updated_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, mapStorageErr(err, "find enrollment")
	}
	return &enrollment, nil
}

// FindForStudent returns the student's enrollments for the given schedule
// ids; ids with no enrollment are simply absent from the result.
func (r *EnrollmentRepository) FindForStudent(ctx context.Context, studentID string, scheduleIDs []string) ([]models.Enrollment, error) {
	if len(scheduleIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(scheduleIDs))
	args := make([]interface{}, 0, len(scheduleIDs)+1)
	args = append(args, studentID)
	for i, id := range scheduleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, student_id, schedule_id, semester, status, grade, committed_at, validated_at, updated_at
        FROM enrollments WHERE student_id = $1 AND schedule_id IN (%s)`, strings.Join(placeholders, ","))

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, mapStorageErr(err, "find student enrollments")
	}
	return enrollments, nil
}

// CommitBatch validates and commits one Register batch atomically: every
// requested schedule becomes an enrollment with a shared commit timestamp,
// or nothing is written. The client's cart is advisory only; the plan is
// re-derived from ledger and catalog state read inside this transaction.
func (r *EnrollmentRepository) CommitBatch(ctx context.Context, studentID, semester string, scheduleIDs []string, creditCap int, policy krs.DuplicatePolicy) ([]models.EnrollmentDetail, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, mapStorageErr(err, "begin register tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := acquireStudentLock(ctx, tx, studentID); err != nil {
		return nil, err
	}

	requested, err := r.resolveOfferings(ctx, tx, scheduleIDs)
	if err != nil {
		return nil, err
	}
	committed, err := r.committedOfferings(ctx, tx, studentID, semester)
	if err != nil {
		return nil, err
	}

	accepted, err := krs.Check(krs.Plan{
		Committed: committed,
		Requested: requested,
		CreditCap: creditCap,
		Policy:    policy,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	const insert = `INSERT INTO enrollments (id, student_id, schedule_id, semester, status, committed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)`
	for _, offering := range accepted {
		if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), studentID, offering.ScheduleID, semester, models.EnrollmentStatusCommitted, now); err != nil {
			return nil, mapStorageErr(err, "insert enrollment")
		}
	}

	result, err := r.listByStudentTx(ctx, tx, studentID, semester)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapStorageErr(err, "commit register tx")
	}
	return result, nil
}

// WithdrawBatch removes the named enrollments, all or nothing. Ownership
// is re-verified inside the transaction; any missing row fails the batch
// with the not-enrolled ids.
func (r *EnrollmentRepository) WithdrawBatch(ctx context.Context, studentID string, scheduleIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapStorageErr(err, "begin withdraw tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := acquireStudentLock(ctx, tx, studentID); err != nil {
		return err
	}

	placeholders := make([]string, len(scheduleIDs))
	args := make([]interface{}, 0, len(scheduleIDs)+1)
	args = append(args, studentID)
	for i, id := range scheduleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf(`DELETE FROM enrollments WHERE student_id = $1 AND schedule_id IN (%s) RETURNING schedule_id`,
		strings.Join(placeholders, ","))

	var removed []string
	if err := tx.SelectContext(ctx, &removed, query, args...); err != nil {
		return mapStorageErr(err, "withdraw enrollments")
	}
	if len(removed) != len(uniqueStrings(scheduleIDs)) {
		missing := missingStrings(scheduleIDs, removed)
		return appErrors.WithDetails(appErrors.ErrNotEnrolled, map[string]interface{}{"schedule_ids": missing})
	}

	if err := tx.Commit(); err != nil {
		return mapStorageErr(err, "commit withdraw tx")
	}
	return nil
}

// ApplyVerdicts transitions enrollment statuses after an audit pass.
// Rejected rows keep their grade history but stop counting toward load.
func (r *EnrollmentRepository) ApplyVerdicts(ctx context.Context, verdicts []models.ValidationVerdict, validatedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapStorageErr(err, "begin verdict tx")
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE enrollments SET status = $2, validated_at = $3, updated_at = $3 WHERE id = $1`
	for _, v := range verdicts {
		if _, err := tx.ExecContext(ctx, query, v.EnrollmentID, v.Status, validatedAt); err != nil {
			return mapStorageErr(err, "apply verdict")
		}
	}
	if err := tx.Commit(); err != nil {
		return mapStorageErr(err, "commit verdict tx")
	}
	return nil
}

// SetGrade writes the grade exactly once; a second write fails.
func (r *EnrollmentRepository) SetGrade(ctx context.Context, id string, grade float64) error {
	const query = `UPDATE enrollments SET grade = $2, updated_at = $3 WHERE id = $1 AND grade IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, grade, time.Now().UTC())
	if err != nil {
		return mapStorageErr(err, "set grade")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapStorageErr(err, "set grade result")
	}
	if affected == 0 {
		return appErrors.ErrAlreadyGraded
	}
	return nil
}

// ListGraded returns the transcript rows feeding the GPA calculator.
func (r *EnrollmentRepository) ListGraded(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	const query = `SELECT c.code AS course_code, c.name AS course_name, c.credits, e.semester, e.grade
        FROM enrollments e
        JOIN schedules s ON s.id = e.schedule_id
        JOIN courses c ON c.id = s.course_id
        WHERE e.student_id = $1 AND e.grade IS NOT NULL AND e.status <> $2
        ORDER BY e.semester, c.code`
	var rows []models.TranscriptRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, models.EnrollmentStatusRejected); err != nil {
		return nil, mapStorageErr(err, "list graded enrollments")
	}
	return rows, nil
}

// CommittedOfferings loads the student's active set flattened for the
// plan checker, ordered by commit time so cap verdicts are stable.
func (r *EnrollmentRepository) CommittedOfferings(ctx context.Context, studentID, semester string) ([]krs.Offering, []models.EnrollmentDetail, error) {
	details, err := r.ListByStudent(ctx, studentID, semester)
	if err != nil {
		return nil, nil, err
	}
	offerings := make([]krs.Offering, 0, len(details))
	for _, d := range details {
		offering, err := detailToOffering(d)
		if err != nil {
			return nil, nil, err
		}
		offerings = append(offerings, offering)
	}
	return offerings, details, nil
}

func (r *EnrollmentRepository) listByStudentTx(ctx context.Context, tx *sqlx.Tx, studentID, semester string) ([]models.EnrollmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s %s WHERE e.student_id = $1 AND e.semester = $2 AND e.status <> $3 ORDER BY e.committed_at, e.id`,
		enrollmentDetailColumns, enrollmentDetailJoin)
	var details []models.EnrollmentDetail
	if err := tx.SelectContext(ctx, &details, query, studentID, semester, models.EnrollmentStatusRejected); err != nil {
		return nil, mapStorageErr(err, "list committed set")
	}
	return details, nil
}

type offeringRow struct {
	ScheduleID string `db:"schedule_id"`
	CourseID   string `db:"course_id"`
	CourseCode string `db:"course_code"`
	Credits    int    `db:"credits"`
	DayOfWeek  string `db:"day_of_week"`
	StartTime  string `db:"start_time"`
	EndTime    string `db:"end_time"`
	Capacity   *int   `db:"capacity"`
}

// resolveOfferings maps every requested schedule id against the catalog;
// any unresolved id fails the batch. Schedules with a seat limit take an
// additional per-schedule lock (sorted to keep lock order deterministic)
// before their enrollment count is read.
func (r *EnrollmentRepository) resolveOfferings(ctx context.Context, tx *sqlx.Tx, scheduleIDs []string) ([]krs.Offering, error) {
	ids := uniqueStrings(scheduleIDs)
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT s.id AS schedule_id, s.course_id, c.code AS course_code, c.credits,
        s.day_of_week, s.start_time, s.end_time, s.capacity
        FROM schedules s JOIN courses c ON c.id = s.course_id
        WHERE s.id IN (%s)`, strings.Join(placeholders, ","))

	var rows []offeringRow
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapStorageErr(err, "resolve schedules")
	}

	found := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		found[row.ScheduleID] = struct{}{}
	}
	if len(rows) != len(ids) {
		var missing []string
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, appErrors.WithDetails(appErrors.ErrScheduleNotFound, map[string]interface{}{"schedule_ids": missing})
	}

	var limited []string
	for _, row := range rows {
		if row.Capacity != nil {
			limited = append(limited, row.ScheduleID)
		}
	}
	taken := map[string]int{}
	if len(limited) > 0 {
		sort.Strings(limited)
		for _, id := range limited {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "krs:seat:"+id); err != nil {
				return nil, mapStorageErr(err, "lock schedule seats")
			}
		}
		var err error
		taken, err = r.countBySchedule(ctx, tx, limited)
		if err != nil {
			return nil, err
		}
	}

	offerings := make([]krs.Offering, 0, len(rows))
	for _, row := range rows {
		start, err := krs.ParseClock(row.StartTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", row.ScheduleID, err)
		}
		end, err := krs.ParseClock(row.EndTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", row.ScheduleID, err)
		}
		offerings = append(offerings, krs.Offering{
			ScheduleID: row.ScheduleID,
			CourseID:   row.CourseID,
			CourseCode: row.CourseCode,
			Credits:    row.Credits,
			Day:        row.DayOfWeek,
			StartMin:   start,
			EndMin:     end,
			Seats:      row.Capacity,
			Taken:      taken[row.ScheduleID],
		})
	}
	return offerings, nil
}

func (r *EnrollmentRepository) committedOfferings(ctx context.Context, tx *sqlx.Tx, studentID, semester string) ([]krs.Offering, error) {
	details, err := r.listByStudentTx(ctx, tx, studentID, semester)
	if err != nil {
		return nil, err
	}
	offerings := make([]krs.Offering, 0, len(details))
	for _, d := range details {
		offering, err := detailToOffering(d)
		if err != nil {
			return nil, err
		}
		offerings = append(offerings, offering)
	}
	return offerings, nil
}

func (r *EnrollmentRepository) countBySchedule(ctx context.Context, tx *sqlx.Tx, scheduleIDs []string) (map[string]int, error) {
	placeholders := make([]string, len(scheduleIDs))
	args := make([]interface{}, 0, len(scheduleIDs)+1)
	for i, id := range scheduleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, models.EnrollmentStatusRejected)
	query := fmt.Sprintf(`SELECT schedule_id, COUNT(*) AS n FROM enrollments
        WHERE schedule_id IN (%s) AND status <> $%d GROUP BY schedule_id`,
		strings.Join(placeholders, ","), len(scheduleIDs)+1)

	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, mapStorageErr(err, "count schedule seats")
	}
	defer rows.Close()

	counts := make(map[string]int, len(scheduleIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, mapStorageErr(err, "scan seat count")
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func detailToOffering(d models.EnrollmentDetail) (krs.Offering, error) {
	start, err := krs.ParseClock(d.StartTime)
	if err != nil {
		return krs.Offering{}, fmt.Errorf("enrollment %s: %w", d.ID, err)
	}
	end, err := krs.ParseClock(d.EndTime)
	if err != nil {
		return krs.Offering{}, fmt.Errorf("enrollment %s: %w", d.ID, err)
	}
	return krs.Offering{
		ScheduleID: d.ScheduleID,
		CourseID:   d.CourseID,
		CourseCode: d.CourseCode,
		Credits:    d.Credits,
		Day:        d.DayOfWeek,
		StartMin:   start,
		EndMin:     end,
	}, nil
}

// acquireStudentLock serializes every ledger write for one student. The
// lock is transaction-scoped and released automatically on commit or
// rollback.
func acquireStudentLock(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "krs:student:"+studentID); err != nil {
		return mapStorageErr(err, "lock student ledger")
	}
	return nil
}

// mapStorageErr classifies infrastructure failures so callers can tell
// retryable conditions from hard ones.
func mapStorageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, appErrors.ErrStorageUnavailable.Message)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
		case "23505": // unique_violation on (student_id, schedule_id)
			return appErrors.Wrap(err, appErrors.ErrDuplicateEnrollment.Code, appErrors.ErrDuplicateEnrollment.Status, appErrors.ErrDuplicateEnrollment.Message)
		case "53300", "57P03": // too_many_connections, cannot_connect_now
			return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, appErrors.ErrStorageUnavailable.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func missingStrings(wanted, got []string) []string {
	present := make(map[string]struct{}, len(got))
	for _, v := range got {
		present[v] = struct{}{}
	}
	var missing []string
	for _, v := range uniqueStrings(wanted) {
		if _, ok := present[v]; !ok {
			missing = append(missing, v)
		}
	}
	sort.Strings(missing)
	return missing
}
