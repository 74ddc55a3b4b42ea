package krs

import "math"

// Raw grades are recorded on a 0-100 scale; GPA points are the linear map
// raw/25 clamped to [0, 4], so 100 -> 4.0 and 75 -> 3.0.
const (
	RawGradeMax   = 100.0
	GradePointMax = 4.0
)

// GradePoint converts a raw grade to its 4.0-scale point value.
func GradePoint(raw float64) float64 {
	point := raw / (RawGradeMax / GradePointMax)
	if point < 0 {
		return 0
	}
	if point > GradePointMax {
		return GradePointMax
	}
	return point
}

// GradedCourse is one graded enrollment weighted by its course credits.
type GradedCourse struct {
	Credits int
	Raw     float64
}

// WeightedGPA returns the credit-weighted mean grade point over the given
// rows. hasGrades is false when the slice is empty, which callers must
// surface instead of presenting a GPA of zero.
func WeightedGPA(rows []GradedCourse) (gpa float64, totalCredits int, hasGrades bool) {
	if len(rows) == 0 {
		return 0, 0, false
	}
	weighted := 0.0
	for _, row := range rows {
		weighted += GradePoint(row.Raw) * float64(row.Credits)
		totalCredits += row.Credits
	}
	if totalCredits == 0 {
		return 0, 0, false
	}
	return weighted / float64(totalCredits), totalCredits, true
}

// Round2 rounds to two decimals for presentation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
