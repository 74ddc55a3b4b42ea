package models

import "time"

// Term defines the registration window for a semester tag. Register is
// permitted between RegistrationStart and RegistrationEnd; Withdraw until
// WithdrawalDeadline.
type Term struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	AcademicYear       string    `db:"academic_year" json:"academic_year"`
	Semester           string    `db:"semester" json:"semester"`
	RegistrationStart  time.Time `db:"registration_start" json:"registration_start"`
	RegistrationEnd    time.Time `db:"registration_end" json:"registration_end"`
	WithdrawalDeadline time.Time `db:"withdrawal_deadline" json:"withdrawal_deadline"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// RegistrationOpen reports whether Register is allowed at the given time.
func (t *Term) RegistrationOpen(now time.Time) bool {
	return t.IsActive && !now.Before(t.RegistrationStart) && !now.After(t.RegistrationEnd)
}

// WithdrawalOpen reports whether Withdraw is allowed at the given time.
func (t *Term) WithdrawalOpen(now time.Time) bool {
	return t.IsActive && !now.After(t.WithdrawalDeadline)
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear string
	Semester     string
	IsActive     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
