package models

import "time"

// DayOfWeek values accepted on schedules.
const (
	DayMonday    = "MONDAY"
	DayTuesday   = "TUESDAY"
	DayWednesday = "WEDNESDAY"
	DayThursday  = "THURSDAY"
	DayFriday    = "FRIDAY"
	DaySaturday  = "SATURDAY"
)

// Schedule is a specific offering (section) of a course: day, time window,
// room and lecturer. Students enroll in a schedule, not in a course.
type Schedule struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	DayOfWeek  string    `db:"day_of_week" json:"day_of_week"`
	StartTime  string    `db:"start_time" json:"start_time"`
	EndTime    string    `db:"end_time" json:"end_time"`
	Room       string    `db:"room" json:"room"`
	LecturerID string    `db:"lecturer_id" json:"lecturer_id"`
	Capacity   *int      `db:"capacity" json:"capacity,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleDetail enriches Schedule with its course fields.
type ScheduleDetail struct {
	Schedule
	CourseCode     string `db:"course_code" json:"course_code"`
	CourseName     string `db:"course_name" json:"course_name"`
	Credits        int    `db:"credits" json:"credits"`
	CourseSemester string `db:"course_semester" json:"course_semester"`
}

// ScheduleFilter describes query params for listing schedules.
type ScheduleFilter struct {
	CourseID   string
	Semester   string
	DayOfWeek  string
	Room       string
	LecturerID string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
