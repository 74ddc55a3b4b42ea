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

const studentDetailColumns = `st.id, st.user_id, st.nim, st.program, st.faculty, st.advisor_id, st.status,
        st.created_at, st.updated_at, u.full_name, u.email`

// StudentRepository handles persistence of student profiles.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students filtered by the provided criteria.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students st JOIN users u ON u.id = st.user_id WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Program != "" {
		conditions = append(conditions, fmt.Sprintf("st.program = $%d", len(args)+1))
		args = append(args, filter.Program)
	}
	if filter.Faculty != "" {
		conditions = append(conditions, fmt.Sprintf("st.faculty = $%d", len(args)+1))
		args = append(args, filter.Faculty)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("st.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(st.nim ILIKE $%d OR u.full_name ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"nim":       "st.nim",
		"full_name": "u.full_name",
		"program":   "st.program",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "st.nim"
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
		studentDetailColumns, base, orderBy, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student with their identity fields.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM students st JOIN users u ON u.id = st.user_id WHERE st.id = $1`, studentDetailColumns)
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByUserID returns the student profile backing a user account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM students st JOIN users u ON u.id = st.user_id WHERE st.user_id = $1`, studentDetailColumns)
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByNIM returns the student with the given registration number.
func (r *StudentRepository) FindByNIM(ctx context.Context, nim string) (*models.StudentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM students st JOIN users u ON u.id = st.user_id WHERE st.nim = $1`, studentDetailColumns)
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, query, nim); err != nil {
		return nil, err
	}
	return &student, nil
}

// Create persists a new student profile.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	if student.Status == "" {
		student.Status = models.StudentStatusActive
	}
	const query = `INSERT INTO students (id, user_id, nim, program, faculty, advisor_id, status, created_at, updated_at)
        VALUES (:id, :user_id, :nim, :program, :faculty, :advisor_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateStatus switches the student's academic standing.
func (r *StudentRepository) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	const query = `UPDATE students SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	return nil
}
