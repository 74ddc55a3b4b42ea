package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByNIM(ctx context.Context, nim string) (*models.StudentDetail, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error
}

type studentUserWriter interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// CreateStudentRequest enrolls a new student into the directory,
// creating the login account and the academic profile together.
type CreateStudentRequest struct {
	NIM      string `json:"nim" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Program  string `json:"program" validate:"required"`
	Faculty  string `json:"faculty" validate:"required"`
}

// StudentService manages the student directory.
type StudentService struct {
	repo      studentRepository
	users     studentUserWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService creates a new student service.
func NewStudentService(repo studentRepository, users studentUserWriter, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, users: users, validator: validate, logger: logger}
}

// List returns paginated students with identity fields.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a student by identifier.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student account and profile, enforcing NIM and
// email uniqueness.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	req.NIM = strings.TrimSpace(req.NIM)
	if _, err := s.repo.FindByNIM(ctx, req.NIM); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "nim already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check nim")
	}
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.RoleStudent,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user account")
	}

	student := &models.Student{
		UserID:  user.ID,
		NIM:     req.NIM,
		Program: req.Program,
		Faculty: req.Faculty,
		Status:  models.StudentStatusActive,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student profile")
	}

	s.logger.Info("student created", zap.String("nim", student.NIM))
	return &models.StudentDetail{
		Student:  *student,
		FullName: user.FullName,
		Email:    user.Email,
	}, nil
}

// SetStatus toggles a student's academic standing. Inactive students
// cannot register.
func (s *StudentService) SetStatus(ctx context.Context, id string, status models.StudentStatus) (*models.StudentDetail, error) {
	if status != models.StudentStatusActive && status != models.StudentStatusInactive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be ACTIVE or INACTIVE")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student status")
	}
	return s.Get(ctx, id)
}
