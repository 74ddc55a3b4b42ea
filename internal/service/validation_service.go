package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type committedLedger interface {
	CommittedOfferings(ctx context.Context, studentID, semester string) ([]krs.Offering, []models.EnrollmentDetail, error)
	ApplyVerdicts(ctx context.Context, verdicts []models.ValidationVerdict, validatedAt time.Time) error
}

type rejectionNotifier interface {
	EnqueueRejection(ctx context.Context, studentID string, verdict models.ValidationVerdict) error
}

// ValidationService re-audits committed registrations for an
// administrator. Register already enforces every invariant at commit
// time, so the audit normally marks the whole set VALIDATED; it exists
// to catch drift introduced out of band, e.g. a catalog correction that
// moved a schedule into collision after students registered.
type ValidationService struct {
	ledger   committedLedger
	cache    ledgerCache
	notifier rejectionNotifier
	cfg      config.KRSConfig
	policy   krs.DuplicatePolicy
	logger   *zap.Logger
	now      func() time.Time
}

// NewValidationService constructs ValidationService. notifier may be nil.
func NewValidationService(ledger committedLedger, cache ledgerCache, notifier rejectionNotifier, cfg config.KRSConfig, logger *zap.Logger) *ValidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationService{
		ledger:   ledger,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		policy:   krs.ParseDuplicatePolicy(cfg.DuplicatePolicy),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateBatch audits one student's committed set for a semester and
// persists a VALIDATED or REJECTED verdict per enrollment. Rejections
// carry the finding that caused them and are pushed to the notifier.
func (s *ValidationService) ValidateBatch(ctx context.Context, studentID, semester string) (*models.ValidationReport, error) {
	offerings, details, err := s.ledger.CommittedOfferings(ctx, studentID, semester)
	if err != nil {
		return nil, err
	}
	if len(offerings) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no committed enrollments to validate")
	}

	// Replay the committed set in commit order, admitting each
	// enrollment against the ones already upheld. Earlier enrollments
	// stand; a drifted tail that now collides or overflows the cap is
	// the part that gets rejected.
	kept := make([]krs.Offering, 0, len(offerings))
	reasons := make(map[string]string)
	for _, o := range offerings {
		admitted, checkErr := krs.Check(krs.Plan{
			Committed: kept,
			Requested: []krs.Offering{o},
			CreditCap: s.cfg.CreditCap,
			Policy:    s.policy,
		})
		if checkErr != nil {
			e := appErrors.FromError(checkErr)
			reasons[o.ScheduleID] = fmt.Sprintf("%s: %s", e.Code, e.Message)
			continue
		}
		kept = append(kept, admitted...)
	}

	acceptedIDs := make(map[string]struct{}, len(kept))
	for _, o := range kept {
		acceptedIDs[o.ScheduleID] = struct{}{}
	}

	validatedAt := s.now()
	report := &models.ValidationReport{
		StudentID:    studentID,
		Semester:     semester,
		TotalCredits: krs.TotalCredits(kept),
		CreditCap:    s.cfg.CreditCap,
		ValidatedAt:  validatedAt,
	}
	for _, d := range details {
		verdict := models.ValidationVerdict{
			EnrollmentID: d.ID,
			ScheduleID:   d.ScheduleID,
			CourseCode:   d.CourseCode,
			Status:       models.EnrollmentStatusValidated,
		}
		if _, ok := acceptedIDs[d.ScheduleID]; !ok {
			verdict.Status = models.EnrollmentStatusRejected
			verdict.Reason = reasons[d.ScheduleID]
		}
		report.Verdicts = append(report.Verdicts, verdict)
	}

	if err := s.ledger.ApplyVerdicts(ctx, report.Verdicts, validatedAt); err != nil {
		return nil, err
	}

	rejected := 0
	for _, v := range report.Verdicts {
		if v.Status != models.EnrollmentStatusRejected {
			continue
		}
		rejected++
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.EnqueueRejection(ctx, studentID, v); err != nil {
			s.logger.Warn("failed to enqueue rejection notice",
				zap.String("enrollment_id", v.EnrollmentID),
				zap.Error(err),
			)
		}
	}

	if s.cache != nil {
		s.cache.Delete(ctx, gpaCacheKey(studentID))
		if err := s.cache.DeleteByPattern(ctx, enrollmentSetKey(studentID, "*")); err != nil {
			s.logger.Warn("failed to invalidate enrollment cache", zap.Error(err))
		}
	}

	s.logger.Info("krs batch validated",
		zap.String("student_id", studentID),
		zap.String("semester", semester),
		zap.Int("verdicts", len(report.Verdicts)),
		zap.Int("rejected", rejected),
	)
	return report, nil
}
