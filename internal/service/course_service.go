package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
}

// CreateCourseRequest captures fields for creating catalog courses.
type CreateCourseRequest struct {
	Code     string `json:"code" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Credits  int    `json:"credits" validate:"required,min=1,max=6"`
	Semester string `json:"semester" validate:"required"`
	Program  string `json:"program" validate:"required"`
	Faculty  string `json:"faculty" validate:"required"`
}

// UpdateCourseRequest modifies course fields.
type UpdateCourseRequest struct {
	Name     string `json:"name" validate:"required"`
	Credits  int    `json:"credits" validate:"required,min=1,max=6"`
	Semester string `json:"semester" validate:"required"`
	Program  string `json:"program" validate:"required"`
	Faculty  string `json:"faculty" validate:"required"`
}

// CourseService manages catalog courses. Credit weights live here; the
// registration engine reads them but never writes them.
type CourseService struct {
	repo      courseRepository
	terms     termReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService creates a new course service.
func NewCourseService(repo courseRepository, terms termReader, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, terms: terms, validator: validate, logger: logger}
}

// List returns paginated courses.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a course by identifier.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a course ensuring code uniqueness.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if _, err := s.repo.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}

	course := &models.Course{
		Code:     req.Code,
		Name:     req.Name,
		Credits:  req.Credits,
		Semester: req.Semester,
		Program:  req.Program,
		Faculty:  req.Faculty,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.logger.Info("course created", zap.String("code", course.Code))
	return course, nil
}

// Update modifies an existing course. Credits are frozen while a
// registration window for the course's semester is open, otherwise a
// catalog edit could silently push committed students over the cap.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Credits != course.Credits {
		if err := s.requireWindowClosed(ctx, course.Semester); err != nil {
			return nil, err
		}
	}

	course.Name = req.Name
	course.Credits = req.Credits
	course.Semester = req.Semester
	course.Program = req.Program
	course.Faculty = req.Faculty
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete removes a course from the catalog.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	course, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireWindowClosed(ctx, course.Semester); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.logger.Info("course deleted", zap.String("id", id))
	return nil
}

func (s *CourseService) requireWindowClosed(ctx context.Context, semester string) error {
	term, err := s.terms.FindActiveBySemester(ctx, semester)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if term.RegistrationOpen(nowUTC()) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "catalog is frozen while registration is open")
	}
	return nil
}

func paginationFor(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
