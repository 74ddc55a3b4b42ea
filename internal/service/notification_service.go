package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/pkg/config"
	"github.com/sister-kampus/sister-api/pkg/jobs"
)

// RejectionNotice is the payload dispatched when a validation pass
// rejects an enrollment.
type RejectionNotice struct {
	StudentID    string `json:"student_id"`
	EnrollmentID string `json:"enrollment_id"`
	CourseCode   string `json:"course_code"`
	Reason       string `json:"reason"`
}

// NotificationService dispatches student-facing notices off the request
// path through an in-memory worker queue. Delivery is currently a
// structured log line; the queue keeps the delivery contract in place
// for a mail or push backend.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the service and its backing queue.
func NewNotificationService(cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{logger: logger}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// EnqueueRejection queues a rejected-enrollment notice for delivery.
func (s *NotificationService) EnqueueRejection(ctx context.Context, studentID string, verdict models.ValidationVerdict) error {
	return s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: "enrollment.rejected",
		Payload: RejectionNotice{
			StudentID:    studentID,
			EnrollmentID: verdict.EnrollmentID,
			CourseCode:   verdict.CourseCode,
			Reason:       verdict.Reason,
		},
	})
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	notice, ok := job.Payload.(RejectionNotice)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for job %s", job.Payload, job.ID)
	}
	s.logger.Info("notification delivered",
		zap.String("type", job.Type),
		zap.String("student_id", notice.StudentID),
		zap.String("course_code", notice.CourseCode),
		zap.String("reason", notice.Reason),
	)
	return nil
}
