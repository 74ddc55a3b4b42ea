package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sister-kampus/sister-api/internal/krs"
	"github.com/sister-kampus/sister-api/internal/models"
	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

type scheduleRepository interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleDetail, error)
	FindOverlapping(ctx context.Context, dayOfWeek, startTime, endTime, room, lecturerID, excludeID string) ([]models.Schedule, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	Update(ctx context.Context, schedule *models.Schedule) error
	Delete(ctx context.Context, id string) error
}

type scheduleCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CreateScheduleRequest captures fields for creating a section.
type CreateScheduleRequest struct {
	CourseID   string `json:"course_id" validate:"required"`
	DayOfWeek  string `json:"day_of_week" validate:"required,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY"`
	StartTime  string `json:"start_time" validate:"required"`
	EndTime    string `json:"end_time" validate:"required"`
	Room       string `json:"room" validate:"required"`
	LecturerID string `json:"lecturer_id" validate:"required"`
	Capacity   *int   `json:"capacity" validate:"omitempty,min=1"`
}

// UpdateScheduleRequest modifies section fields.
type UpdateScheduleRequest struct {
	DayOfWeek  string `json:"day_of_week" validate:"required,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY"`
	StartTime  string `json:"start_time" validate:"required"`
	EndTime    string `json:"end_time" validate:"required"`
	Room       string `json:"room" validate:"required"`
	LecturerID string `json:"lecturer_id" validate:"required"`
	Capacity   *int   `json:"capacity" validate:"omitempty,min=1"`
}

// ScheduleService manages course sections. It guards the catalog-side
// half of the collision invariant: no room or lecturer is double-booked
// at creation time, so the engine can trust schedule rows it reads.
type ScheduleService struct {
	repo      scheduleRepository
	courses   scheduleCourseReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService creates a new schedule service.
func NewScheduleService(repo scheduleRepository, courses scheduleCourseReader, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, courses: courses, validator: validate, logger: logger}
}

// List returns paginated schedules with course detail.
func (s *ScheduleService) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleDetail, *models.Pagination, error) {
	schedules, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	return schedules, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a schedule by identifier.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	schedule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// Create adds a new section after checking time validity and room and
// lecturer availability.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.requireAvailable(ctx, req.DayOfWeek, req.StartTime, req.EndTime, req.Room, req.LecturerID, ""); err != nil {
		return nil, err
	}

	schedule := &models.Schedule{
		CourseID:   req.CourseID,
		DayOfWeek:  req.DayOfWeek,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Room:       req.Room,
		LecturerID: req.LecturerID,
		Capacity:   req.Capacity,
	}
	if err := s.repo.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	s.logger.Info("schedule created",
		zap.String("course_id", schedule.CourseID),
		zap.String("day", schedule.DayOfWeek),
		zap.String("room", schedule.Room),
	)
	return schedule, nil
}

// Update modifies an existing section with the same availability checks.
func (s *ScheduleService) Update(ctx context.Context, id string, req UpdateScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireAvailable(ctx, req.DayOfWeek, req.StartTime, req.EndTime, req.Room, req.LecturerID, id); err != nil {
		return nil, err
	}

	schedule := detail.Schedule
	schedule.DayOfWeek = req.DayOfWeek
	schedule.StartTime = req.StartTime
	schedule.EndTime = req.EndTime
	schedule.Room = req.Room
	schedule.LecturerID = req.LecturerID
	schedule.Capacity = req.Capacity
	if err := s.repo.Update(ctx, &schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}
	return &schedule, nil
}

// Delete removes a section.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}
	return nil
}

func (s *ScheduleService) requireAvailable(ctx context.Context, day, start, end, room, lecturerID, excludeID string) error {
	overlapping, err := s.repo.FindOverlapping(ctx, day, start, end, room, lecturerID, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check availability")
	}
	if len(overlapping) > 0 {
		ids := make([]string, 0, len(overlapping))
		for _, o := range overlapping {
			ids = append(ids, o.ID)
		}
		return appErrors.WithDetails(appErrors.ErrScheduleConflict, map[string]interface{}{"schedule_ids": ids})
	}
	return nil
}

func validateTimeRange(start, end string) error {
	startMin, err := krs.ParseClock(start)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
	}
	endMin, err := krs.ParseClock(end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM")
	}
	if endMin <= startMin {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	return nil
}
