package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type enrollmentLedger interface {
	ListByStudent(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error)
	FindForStudent(ctx context.Context, studentID string, scheduleIDs []string) ([]models.Enrollment, error)
	CommitBatch(ctx context.Context, studentID, semester string, scheduleIDs []string, creditCap int, policy krs.DuplicatePolicy) ([]models.EnrollmentDetail, error)
	WithdrawBatch(ctx context.Context, studentID string, scheduleIDs []string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type termReader interface {
	FindActiveBySemester(ctx context.Context, semester string) (*models.Term, error)
}

type ledgerCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RegisterRequest is one KRS submission: the student's candidate set for
// a semester. The client-side cart behind it is advisory UI state; every
// invariant is re-derived server-side.
type RegisterRequest struct {
	StudentID   string   `json:"student_id" validate:"required"`
	Semester    string   `json:"semester" validate:"required"`
	ScheduleIDs []string `json:"schedule_ids" validate:"required,min=1,dive,required"`
}

// WithdrawRequest names the enrollments to remove.
type WithdrawRequest struct {
	StudentID   string   `json:"student_id" validate:"required"`
	ScheduleIDs []string `json:"schedule_ids" validate:"required,min=1,dive,required"`
}

// EnrollmentService is the registration engine: it accepts candidate
// batches, enforces the credit-cap, duplicate and collision invariants
// against authoritative ledger state, and commits all-or-nothing.
type EnrollmentService struct {
	ledger    enrollmentLedger
	students  studentReader
	terms     termReader
	cache     ledgerCache
	cfg       config.KRSConfig
	policy    krs.DuplicatePolicy
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewEnrollmentService constructs EnrollmentService. metrics may be nil.
func NewEnrollmentService(ledger enrollmentLedger, students studentReader, terms termReader, cache ledgerCache, metrics *MetricsService, cfg config.KRSConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		ledger:    ledger,
		students:  students,
		terms:     terms,
		cache:     cache,
		cfg:       cfg,
		policy:    krs.ParseDuplicatePolicy(cfg.DuplicatePolicy),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     time.Sleep,
	}
}

// Register validates and commits one batch atomically. Validation
// failures are terminal for the batch; transient ledger failures are
// retried a bounded number of times with the identical batch, which is
// safe because a replayed successful commit surfaces as a duplicate.
func (s *EnrollmentService) Register(ctx context.Context, req RegisterRequest) ([]models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Status != models.StudentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is not active")
	}

	if err := s.requireRegistrationOpen(ctx, req.Semester); err != nil {
		return nil, err
	}

	var committed []models.EnrollmentDetail
	err = s.withRetries(func(attempt int) error {
		txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
		defer cancel()
		var commitErr error
		committed, commitErr = s.ledger.CommitBatch(txCtx, req.StudentID, req.Semester, req.ScheduleIDs, s.cfg.CreditCap, s.policy)
		return commitErr
	})
	if err != nil {
		s.metrics.ObserveRegisterOutcome(appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.ObserveRegisterOutcome("committed")

	s.invalidate(ctx, req.StudentID)
	s.logger.Info("krs batch committed",
		zap.String("student_id", req.StudentID),
		zap.String("semester", req.Semester),
		zap.Int("batch_size", len(req.ScheduleIDs)),
		zap.Int("committed_total", len(committed)),
	)
	return committed, nil
}

// Withdraw removes the named enrollments, all or nothing, while the
// withdrawal window for their semester is still open.
func (s *EnrollmentService) Withdraw(ctx context.Context, req WithdrawRequest) ([]models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid withdrawal payload")
	}

	enrollments, err := s.ledger.FindForStudent(ctx, req.StudentID, req.ScheduleIDs)
	if err != nil {
		return nil, err
	}
	held := make(map[string]string, len(enrollments))
	for _, e := range enrollments {
		held[e.ScheduleID] = e.Semester
	}
	var missing []string
	semesters := make(map[string]struct{})
	for _, id := range req.ScheduleIDs {
		semester, ok := held[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		semesters[semester] = struct{}{}
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrNotEnrolled, map[string]interface{}{"schedule_ids": missing})
	}

	now := s.now()
	for semester := range semesters {
		term, err := s.terms.FindActiveBySemester(ctx, semester)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrWithdrawalWindowClosed, fmt.Sprintf("no active registration period for %s", semester))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
		}
		if !term.WithdrawalOpen(now) {
			return nil, appErrors.WithDetails(appErrors.ErrWithdrawalWindowClosed, map[string]interface{}{
				"semester": semester,
				"deadline": term.WithdrawalDeadline,
			})
		}
	}

	err = s.withRetries(func(attempt int) error {
		txCtx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
		defer cancel()
		return s.ledger.WithdrawBatch(txCtx, req.StudentID, req.ScheduleIDs)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.StudentID)
	s.logger.Info("krs batch withdrawn",
		zap.String("student_id", req.StudentID),
		zap.Int("batch_size", len(req.ScheduleIDs)),
	)
	return s.ledger.ListByStudent(ctx, req.StudentID, "")
}

// GetStudentEnrollments returns the committed set with nested schedule
// and course detail. The catalog does not change during a registration
// period, so the joined view caches safely between ledger writes.
func (s *EnrollmentService) GetStudentEnrollments(ctx context.Context, studentID, semester string) ([]models.EnrollmentDetail, error) {
	key := enrollmentSetKey(studentID, semester)
	var cached []models.EnrollmentDetail
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	details, err := s.ledger.ListByStudent(ctx, studentID, semester)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, details, time.Minute); err != nil {
			s.logger.Warn("failed to cache enrollment set", zap.Error(err))
		}
	}
	return details, nil
}

func (s *EnrollmentService) requireRegistrationOpen(ctx context.Context, semester string) error {
	term, err := s.terms.FindActiveBySemester(ctx, semester)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrRegistrationClosed, fmt.Sprintf("no active registration period for %s", semester))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if !term.RegistrationOpen(s.now()) {
		return appErrors.WithDetails(appErrors.ErrRegistrationClosed, map[string]interface{}{
			"semester":           semester,
			"registration_start": term.RegistrationStart,
			"registration_end":   term.RegistrationEnd,
		})
	}
	return nil
}

// withRetries runs fn, replaying it on transient failures with linear
// backoff up to the configured attempt count.
func (s *EnrollmentService) withRetries(fn func(attempt int) error) error {
	attempts := s.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil || !appErrors.IsTransient(err) {
			return err
		}
		if attempt < attempts {
			s.metrics.ObserveRegisterRetry()
			s.logger.Warn("transient ledger failure, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			s.sleep(s.cfg.RetryBackoff * time.Duration(attempt))
		}
	}
	return err
}

func (s *EnrollmentService) invalidate(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, gpaCacheKey(studentID))
	if err := s.cache.DeleteByPattern(ctx, enrollmentSetKey(studentID, "*")); err != nil {
		s.logger.Warn("failed to invalidate enrollment cache", zap.String("student_id", studentID), zap.Error(err))
	}
}

func enrollmentSetKey(studentID, semester string) string {
	if semester == "" {
		semester = "all"
	}
	return fmt.Sprintf("krs:%s:%s", studentID, semester)
}

func gpaCacheKey(studentID string) string {
	return "gpa:" + studentID
}
