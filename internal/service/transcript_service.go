package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
)

type gradedLedger interface {
	ListGraded(ctx context.Context, studentID string) ([]models.TranscriptRow, error)
}

// TranscriptService answers the read side of grading: the cumulative
// credit-weighted GPA and the per-course transcript behind it.
type TranscriptService struct {
	ledger gradedLedger
	cache  ledgerCache
	cfg    config.GPAConfig
	logger *zap.Logger
}

// NewTranscriptService constructs TranscriptService.
func NewTranscriptService(ledger gradedLedger, cache ledgerCache, cfg config.GPAConfig, logger *zap.Logger) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptService{ledger: ledger, cache: cache, cfg: cfg, logger: logger}
}

// ComputeGPA returns the credit-weighted GPA over every graded
// enrollment. A student with no grades yet gets {gpa: 0, has_grades:
// false} rather than an error. Results cache until the next grade
// write or ledger change invalidates them.
func (s *TranscriptService) ComputeGPA(ctx context.Context, studentID string) (*models.GPAReport, error) {
	key := gpaCacheKey(studentID)
	if s.cache != nil {
		var cached models.GPAReport
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	rows, err := s.ledger.ListGraded(ctx, studentID)
	if err != nil {
		return nil, err
	}

	graded := make([]krs.GradedCourse, 0, len(rows))
	for _, row := range rows {
		if row.Grade == nil {
			continue
		}
		graded = append(graded, krs.GradedCourse{Credits: row.Credits, Raw: *row.Grade})
	}
	gpa, credits, hasGrades := krs.WeightedGPA(graded)

	report := &models.GPAReport{
		StudentID:    studentID,
		GPA:          krs.Round2(gpa),
		HasGrades:    hasGrades,
		TotalCredits: credits,
	}
	if s.cache != nil {
		ttl := s.cfg.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		if err := s.cache.Set(ctx, key, report, ttl); err != nil {
			s.logger.Warn("failed to cache gpa report", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return report, nil
}

// Transcript lists every graded enrollment with its grade point.
func (s *TranscriptService) Transcript(ctx context.Context, studentID string) ([]models.TranscriptRow, error) {
	rows, err := s.ledger.ListGraded(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Grade != nil {
			rows[i].GradePoint = krs.Round2(krs.GradePoint(*rows[i].Grade))
		}
	}
	return rows, nil
}
