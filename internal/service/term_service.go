package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActiveBySemester(ctx context.Context, semester string) (*models.Term, error)
	Create(ctx context.Context, term *models.Term) error
	Update(ctx context.Context, term *models.Term) error
	Delete(ctx context.Context, id string) error
}

// CreateTermRequest captures fields for opening a registration period.
type CreateTermRequest struct {
	Name               string    `json:"name" validate:"required"`
	AcademicYear       string    `json:"academic_year" validate:"required"`
	Semester           string    `json:"semester" validate:"required"`
	RegistrationStart  time.Time `json:"registration_start" validate:"required"`
	RegistrationEnd    time.Time `json:"registration_end" validate:"required"`
	WithdrawalDeadline time.Time `json:"withdrawal_deadline" validate:"required"`
	IsActive           bool      `json:"is_active"`
}

// UpdateTermRequest modifies term fields.
type UpdateTermRequest struct {
	Name               string    `json:"name" validate:"required"`
	RegistrationStart  time.Time `json:"registration_start" validate:"required"`
	RegistrationEnd    time.Time `json:"registration_end" validate:"required"`
	WithdrawalDeadline time.Time `json:"withdrawal_deadline" validate:"required"`
	IsActive           bool      `json:"is_active"`
}

// TermService manages registration periods. At most one active term per
// semester tag exists; the engine resolves windows through it.
type TermService struct {
	repo      termRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTermService creates a new term service.
func NewTermService(repo termRepository, validate *validator.Validate, logger *zap.Logger) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated terms.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a term by identifier.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Create opens a registration period for a semester tag.
func (s *TermService) Create(ctx context.Context, req CreateTermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if err := validateTermWindows(req.RegistrationStart, req.RegistrationEnd, req.WithdrawalDeadline); err != nil {
		return nil, err
	}
	if req.IsActive {
		if _, err := s.repo.FindActiveBySemester(ctx, req.Semester); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an active term already exists for this semester")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active term")
		}
	}

	term := &models.Term{
		Name:               req.Name,
		AcademicYear:       req.AcademicYear,
		Semester:           req.Semester,
		RegistrationStart:  req.RegistrationStart,
		RegistrationEnd:    req.RegistrationEnd,
		WithdrawalDeadline: req.WithdrawalDeadline,
		IsActive:           req.IsActive,
	}
	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	s.logger.Info("term created", zap.String("semester", term.Semester), zap.Bool("active", term.IsActive))
	return term, nil
}

// Update modifies an existing term.
func (s *TermService) Update(ctx context.Context, id string, req UpdateTermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if err := validateTermWindows(req.RegistrationStart, req.RegistrationEnd, req.WithdrawalDeadline); err != nil {
		return nil, err
	}

	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsActive && !term.IsActive {
		if existing, err := s.repo.FindActiveBySemester(ctx, term.Semester); err == nil && existing.ID != term.ID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an active term already exists for this semester")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active term")
		}
	}

	term.Name = req.Name
	term.RegistrationStart = req.RegistrationStart
	term.RegistrationEnd = req.RegistrationEnd
	term.WithdrawalDeadline = req.WithdrawalDeadline
	term.IsActive = req.IsActive
	if err := s.repo.Update(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}
	return term, nil
}

// Delete removes a term.
func (s *TermService) Delete(ctx context.Context, id string) error {
	term, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if term.IsActive && term.RegistrationOpen(nowUTC()) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot delete a term with an open registration window")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete term")
	}
	return nil
}

func validateTermWindows(start, end, deadline time.Time) error {
	if !end.After(start) {
		return appErrors.Clone(appErrors.ErrValidation, "registration_end must be after registration_start")
	}
	if deadline.Before(end) {
		return appErrors.Clone(appErrors.ErrValidation, "withdrawal_deadline must not precede registration_end")
	}
	return nil
}
