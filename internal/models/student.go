package models

import "time"

// StudentStatus represents the academic standing of a student.
type StudentStatus string

const (
	StudentStatusActive   StudentStatus = "ACTIVE"
	StudentStatusInactive StudentStatus = "INACTIVE"
)

// Student is the academic profile linked to a STUDENT role user.
type Student struct {
	ID        string        `db:"id" json:"id"`
	UserID    string        `db:"user_id" json:"user_id"`
	NIM       string        `db:"nim" json:"nim"`
	Program   string        `db:"program" json:"program"`
	Faculty   string        `db:"faculty" json:"faculty"`
	AdvisorID *string       `db:"advisor_id" json:"advisor_id,omitempty"`
	Status    StudentStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// StudentDetail enriches Student with user identity fields.
type StudentDetail struct {
	Student
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	Program   string
	Faculty   string
	Status    StudentStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Lecturer is the academic profile linked to a LECTURER role user.
type Lecturer struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	NIP       string    `db:"nip" json:"nip"`
	Title     *string   `db:"title" json:"title,omitempty"`
	Expertise *string   `db:"expertise" json:"expertise,omitempty"`
	Faculty   string    `db:"faculty" json:"faculty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
