package models

import "time"

// EnrollmentStatus tracks the audit lifecycle of a committed registration.
type EnrollmentStatus string

const (
	// EnrollmentStatusCommitted is set by a successful Register batch.
	EnrollmentStatusCommitted EnrollmentStatus = "COMMITTED"
	// EnrollmentStatusValidated is set by an administrator review.
	EnrollmentStatusValidated EnrollmentStatus = "VALIDATED"
	// EnrollmentStatusRejected enrollments no longer count toward the
	// student's credit load.
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
)

// Enrollment is the ledger record of a student registered into a schedule.
// At most one row exists per (student_id, schedule_id); Grade stays nil
// until the grading actor writes it once after the window closes.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	ScheduleID  string           `db:"schedule_id" json:"schedule_id"`
	Semester    string           `db:"semester" json:"semester"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	Grade       *float64         `db:"grade" json:"grade,omitempty"`
	CommittedAt time.Time        `db:"committed_at" json:"committed_at"`
	ValidatedAt *time.Time       `db:"validated_at" json:"validated_at,omitempty"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with schedule and course info.
type EnrollmentDetail struct {
	Enrollment
	CourseID   string `db:"course_id" json:"course_id"`
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name"`
	Credits    int    `db:"credits" json:"credits"`
	DayOfWeek  string `db:"day_of_week" json:"day_of_week"`
	StartTime  string `db:"start_time" json:"start_time"`
	EndTime    string `db:"end_time" json:"end_time"`
	Room       string `db:"room" json:"room"`
}

// ValidationVerdict is the per-enrollment outcome of an audit pass.
type ValidationVerdict struct {
	EnrollmentID string           `json:"enrollment_id"`
	ScheduleID   string           `json:"schedule_id"`
	CourseCode   string           `json:"course_code"`
	Status       EnrollmentStatus `json:"status"`
	Reason       string           `json:"reason,omitempty"`
}

// ValidationReport summarises an audit pass over a student's committed set.
type ValidationReport struct {
	StudentID    string              `json:"student_id"`
	Semester     string              `json:"semester"`
	TotalCredits int                 `json:"total_credits"`
	CreditCap    int                 `json:"credit_cap"`
	Verdicts     []ValidationVerdict `json:"verdicts"`
	ValidatedAt  time.Time           `json:"validated_at"`
}

// GPAReport is the read-side aggregate answered by the transcript
// calculator. HasGrades distinguishes "no graded enrollments" from a
// genuine GPA of zero.
type GPAReport struct {
	StudentID    string  `json:"student_id"`
	GPA          float64 `json:"gpa"`
	HasGrades    bool    `json:"has_grades"`
	TotalCredits int     `json:"total_credits"`
}

// TranscriptRow is one graded enrollment on the transcript.
type TranscriptRow struct {
	CourseCode string   `db:"course_code" json:"course_code"`
	CourseName string   `db:"course_name" json:"course_name"`
	Credits    int      `db:"credits" json:"credits"`
	Semester   string   `db:"semester" json:"semester"`
	Grade      *float64 `db:"grade" json:"grade,omitempty"`
	GradePoint float64  `json:"grade_point"`
}
