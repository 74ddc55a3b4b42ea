package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type gradeLedger interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	SetGrade(ctx context.Context, id string, grade float64) error
}

// GradeRequest writes one raw score onto an enrollment.
type GradeRequest struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required"`
	Grade        float64 `json:"grade" validate:"min=0,max=100"`
}

// GradeService handles grade entry by the grading actor. A grade is
// written at most once per enrollment; corrections go through a manual
// ledger amendment, not this path.
type GradeService struct {
	ledger    gradeLedger
	terms     termReader
	cache     ledgerCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(ledger gradeLedger, terms termReader, cache ledgerCache, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{ledger: ledger, terms: terms, cache: cache, validator: validate, logger: logger}
}

// SetGrade records the raw 0-100 score for one enrollment. Grading
// opens only after the registration window for the enrollment's
// semester has closed, and rejected enrollments cannot be graded.
func (s *GradeService) SetGrade(ctx context.Context, req GradeRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	enrollment, err := s.ledger.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, err
	}
	if enrollment.Status == models.EnrollmentStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot grade a rejected enrollment")
	}
	if enrollment.Grade != nil {
		return nil, appErrors.WithDetails(appErrors.ErrAlreadyGraded, map[string]interface{}{
			"enrollment_id": enrollment.ID,
			"grade":         *enrollment.Grade,
		})
	}

	term, err := s.terms.FindActiveBySemester(ctx, enrollment.Semester)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if term != nil && term.RegistrationOpen(nowUTC()) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("grading for %s opens after registration closes", enrollment.Semester))
	}

	if err := s.ledger.SetGrade(ctx, enrollment.ID, req.Grade); err != nil {
		return nil, err
	}
	enrollment.Grade = &req.Grade

	if s.cache != nil {
		s.cache.Delete(ctx, gpaCacheKey(enrollment.StudentID))
	}
	s.logger.Info("grade recorded",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.Float64("grade", req.Grade),
	)
	return enrollment, nil
}
