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

const termColumns = `id, name, academic_year, semester, registration_start, registration_end, withdrawal_deadline, is_active, created_at, updated_at`

// TermRepository persists registration windows.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository constructs the repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// List returns terms filtered by the provided criteria.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	base := "FROM terms WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"name":               true,
		"academic_year":      true,
		"registration_start": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "registration_start"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, termColumns, base, sortBy, order, size, offset)

	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}
	return terms, total, nil
}

// FindByID returns a term by its ID.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE id = $1`, termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindActiveBySemester returns the active term carrying the registration
// window for the given semester tag.
func (r *TermRepository) FindActiveBySemester(ctx context.Context, semester string) (*models.Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM terms WHERE semester = $1 AND is_active = TRUE ORDER BY registration_start DESC LIMIT 1`, termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, semester); err != nil {
		return nil, err
	}
	return &term, nil
}

// Create persists a new term.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	term.CreatedAt = now
	term.UpdatedAt = now
	const query = `INSERT INTO terms (id, name, academic_year, semester, registration_start, registration_end, withdrawal_deadline, is_active, created_at, updated_at)
        VALUES (:id, :name, :academic_year, :semester, :registration_start, :registration_end, :withdrawal_deadline, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of a term.
func (r *TermRepository) Update(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET name = :name, academic_year = :academic_year, semester = :semester,
        registration_start = :registration_start, registration_end = :registration_end,
        withdrawal_deadline = :withdrawal_deadline, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// Delete removes a term.
func (r *TermRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM terms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	return nil
}
