package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sister-kampus/sister-api/internal/models"
)

const scheduleDetailColumns = `s.id, s.course_id, s.day_of_week, s.start_time, s.end_time, s.room,
        s.lecturer_id, s.capacity, s.created_at, s.updated_at,
        c.code AS course_code, c.name AS course_name, c.credits, c.semester AS course_semester`

// ScheduleRepository provides persistence for course offerings.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// List returns schedules with optional filtering and pagination.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleDetail, int, error) {
	base := "FROM schedules s JOIN courses c ON c.id = s.course_id WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("c.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.DayOfWeek != "" {
		conditions = append(conditions, fmt.Sprintf("s.day_of_week = $%d", len(args)+1))
		args = append(args, filter.DayOfWeek)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("s.room = $%d", len(args)+1))
		args = append(args, filter.Room)
	}
	if filter.LecturerID != "" {
		conditions = append(conditions, fmt.Sprintf("s.lecturer_id = $%d", len(args)+1))
		args = append(args, filter.LecturerID)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"day_of_week": "s.day_of_week",
		"start_time":  "s.start_time",
		"room":        "s.room",
		"course_code": "c.code",
		"created_at":  "s.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "s.day_of_week"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		scheduleDetailColumns, base, orderBy, order, size, offset)

	var schedules []models.ScheduleDetail
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}
	return schedules, total, nil
}

// FindByID returns a schedule with its course detail.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules s JOIN courses c ON c.id = s.course_id WHERE s.id = $1`, scheduleDetailColumns)
	var schedule models.ScheduleDetail
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// FindOverlapping returns schedules on the same day with overlapping time
// windows for the given room or lecturer, used by catalog maintenance to
// keep sections physically consistent.
func (r *ScheduleRepository) FindOverlapping(ctx context.Context, dayOfWeek, startTime, endTime, room, lecturerID, excludeID string) ([]models.Schedule, error) {
	query := `SELECT id, course_id, day_of_week, start_time, end_time, room, lecturer_id, capacity, created_at, updated_at
        FROM schedules
        WHERE day_of_week = $1 AND start_time < $3 AND $2 < end_time AND (room = $4 OR lecturer_id = $5)`
	args := []interface{}{dayOfWeek, startTime, endTime, room, lecturerID}
	if excludeID != "" {
		query += " AND id <> $6"
		args = append(args, excludeID)
	}
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("find overlapping schedules: %w", err)
	}
	return schedules, nil
}

// Create persists a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	const query = `INSERT INTO schedules (id, course_id, day_of_week, start_time, end_time, room, lecturer_id, capacity, created_at, updated_at)
        VALUES (:id, :course_id, :day_of_week, :start_time, :end_time, :room, :lecturer_id, :capacity, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of a schedule.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedules SET day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time,
        room = :room, lecturer_id = :lecturer_id, capacity = :capacity, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// Delete removes a schedule.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
