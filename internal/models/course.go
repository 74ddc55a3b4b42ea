package models

import "time"

// Course is a catalog entry carrying the SKS credit weight summed toward
// the per-semester cap. Courses are immutable while a registration window
// for their semester is open.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Credits   int       `db:"credits" json:"credits"`
	Semester  string    `db:"semester" json:"semester"`
	Program   string    `db:"program" json:"program"`
	Faculty   string    `db:"faculty" json:"faculty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter describes query params for listing courses.
type CourseFilter struct {
	Semester  string
	Program   string
	Faculty   string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
