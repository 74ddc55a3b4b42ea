// Package krs implements the registration-plan invariants shared by the
// enrollment engine and the validation workflow. Everything here is pure:
// callers load ledger and catalog state first, then evaluate.
package krs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	appErrors "github.com/sister-kampus/sister-api/pkg/errors"
)

// DuplicatePolicy decides how a requested schedule the student already
// holds is treated.
type DuplicatePolicy string

const (
	// DuplicateReject fails the whole batch on any duplicate.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateSkip drops the duplicate item as a no-op.
	DuplicateSkip DuplicatePolicy = "skip"
)

// ParseDuplicatePolicy maps a config string to a policy, defaulting to
// the strict reject contract.
func ParseDuplicatePolicy(raw string) DuplicatePolicy {
	if DuplicatePolicy(strings.ToLower(raw)) == DuplicateSkip {
		return DuplicateSkip
	}
	return DuplicateReject
}

// Offering is a schedule resolved against the catalog, flattened to the
// fields the invariants need.
type Offering struct {
	ScheduleID string
	CourseID   string
	CourseCode string
	Credits    int
	Day        string
	StartMin   int
	EndMin     int
	// Seats is nil when the schedule has no seat limit; Taken is the
	// current cross-student enrollment count for the schedule.
	Seats *int
	Taken int
}

// Plan is one Register batch evaluated against the student's committed
// state. The validation workflow audits a committed set by passing it as
// Requested with an empty Committed slice.
type Plan struct {
	Committed []Offering
	Requested []Offering
	CreditCap int
	Policy    DuplicatePolicy
}

// Finding codes mirror the error taxonomy.
const (
	FindingDuplicate = "DUPLICATE_ENROLLMENT"
	FindingCreditCap = "CREDIT_CAP_EXCEEDED"
	FindingConflict  = "SCHEDULE_CONFLICT"
	FindingCapacity  = "SEAT_CAPACITY_EXCEEDED"
)

// Finding names one invariant violation and the offerings involved.
type Finding struct {
	Code        string
	ScheduleIDs []string
	CourseCode  string
	Cap         int
	Requested   int
	Overflow    int
}

func (f Finding) String() string {
	switch f.Code {
	case FindingCreditCap:
		return fmt.Sprintf("credit cap exceeded: cap %d, requested %d, overflow %d", f.Cap, f.Requested, f.Overflow)
	case FindingConflict:
		return fmt.Sprintf("time conflict between schedules %s", strings.Join(f.ScheduleIDs, " and "))
	case FindingDuplicate:
		if f.CourseCode != "" {
			return fmt.Sprintf("duplicate registration for course %s", f.CourseCode)
		}
		return fmt.Sprintf("duplicate registration for schedule %s", strings.Join(f.ScheduleIDs, ", "))
	case FindingCapacity:
		return fmt.Sprintf("seat capacity exceeded for schedule %s", strings.Join(f.ScheduleIDs, ", "))
	}
	return f.Code
}

// Audit evaluates the plan and returns the accepted requested offerings
// (requested minus skipped duplicates) together with every violation
// found. Findings are ordered duplicate, cap, conflict, capacity so the
// first finding matches the engine's documented error precedence. The
// result depends only on the plan's set content, never on item order.
func Audit(p Plan) ([]Offering, []Finding) {
	var findings []Finding

	committedBySchedule := make(map[string]struct{}, len(p.Committed))
	committedByCourse := make(map[string]string, len(p.Committed))
	for _, o := range p.Committed {
		committedBySchedule[o.ScheduleID] = struct{}{}
		committedByCourse[o.CourseID] = o.CourseCode
	}

	// Requested ids are a set: repeats inside the batch collapse silently.
	accepted := make([]Offering, 0, len(p.Requested))
	seen := make(map[string]struct{}, len(p.Requested))
	var duplicateIDs []string
	for _, o := range p.Requested {
		if _, ok := seen[o.ScheduleID]; ok {
			continue
		}
		seen[o.ScheduleID] = struct{}{}

		if _, enrolled := committedBySchedule[o.ScheduleID]; enrolled {
			if p.Policy == DuplicateSkip {
				continue
			}
			duplicateIDs = append(duplicateIDs, o.ScheduleID)
			continue
		}
		accepted = append(accepted, o)
	}
	if len(duplicateIDs) > 0 {
		sort.Strings(duplicateIDs)
		findings = append(findings, Finding{Code: FindingDuplicate, ScheduleIDs: duplicateIDs})
	}

	// A second section of an already-held course is a duplicate as well.
	acceptedByCourse := make(map[string][]string)
	for _, o := range accepted {
		if code, held := committedByCourse[o.CourseID]; held {
			findings = append(findings, Finding{Code: FindingDuplicate, CourseCode: code, ScheduleIDs: []string{o.ScheduleID}})
			continue
		}
		acceptedByCourse[o.CourseID] = append(acceptedByCourse[o.CourseID], o.ScheduleID)
	}
	for courseID, ids := range acceptedByCourse {
		if len(ids) > 1 {
			sort.Strings(ids)
			findings = append(findings, Finding{Code: FindingDuplicate, CourseCode: courseCodeOf(accepted, courseID), ScheduleIDs: ids})
		}
	}
	sortFindings(findings)

	projected := make([]Offering, 0, len(p.Committed)+len(accepted))
	projected = append(projected, p.Committed...)
	projected = append(projected, accepted...)

	if f, over := auditCreditCap(projected, p.CreditCap); over {
		findings = append(findings, f)
	}
	findings = append(findings, auditConflicts(p.Committed, accepted)...)

	for _, o := range accepted {
		if o.Seats != nil && o.Taken >= *o.Seats {
			findings = append(findings, Finding{Code: FindingCapacity, ScheduleIDs: []string{o.ScheduleID}})
		}
	}

	return accepted, findings
}

// Check evaluates the plan and converts the first finding into a typed
// error, or returns the accepted offerings.
func Check(p Plan) ([]Offering, error) {
	accepted, findings := Audit(p)
	if len(findings) == 0 {
		return accepted, nil
	}
	return nil, FindingError(findings[0])
}

// FindingError maps a finding to its typed error with structured details.
func FindingError(f Finding) error {
	switch f.Code {
	case FindingDuplicate:
		details := map[string]interface{}{"schedule_ids": f.ScheduleIDs}
		if f.CourseCode != "" {
			details["course_code"] = f.CourseCode
		}
		return appErrors.WithDetails(appErrors.ErrDuplicateEnrollment, details)
	case FindingCreditCap:
		return appErrors.WithDetails(appErrors.ErrCreditCapExceeded, map[string]interface{}{
			"cap":       f.Cap,
			"requested": f.Requested,
			"overflow":  f.Overflow,
		})
	case FindingConflict:
		return appErrors.WithDetails(appErrors.ErrScheduleConflict, map[string]interface{}{
			"schedule_ids": f.ScheduleIDs,
		})
	case FindingCapacity:
		return appErrors.WithDetails(appErrors.ErrSeatCapacityExceeded, map[string]interface{}{
			"schedule_ids": f.ScheduleIDs,
		})
	}
	return appErrors.Clone(appErrors.ErrValidation, f.String())
}

// auditCreditCap sums the projected load and, when it exceeds the cap,
// names the offerings past the limit walking the slice in order. Callers
// pass committed rows ordered by commit time so the verdict is stable.
func auditCreditCap(projected []Offering, cap int) (Finding, bool) {
	if cap <= 0 {
		return Finding{}, false
	}
	total := 0
	var overIDs []string
	running := 0
	for _, o := range projected {
		total += o.Credits
		if running+o.Credits > cap {
			overIDs = append(overIDs, o.ScheduleID)
		} else {
			running += o.Credits
		}
	}
	if total <= cap {
		return Finding{}, false
	}
	return Finding{
		Code:        FindingCreditCap,
		ScheduleIDs: overIDs,
		Cap:         cap,
		Requested:   total,
		Overflow:    total - cap,
	}, true
}

// auditConflicts reports day/time overlaps. Pairs wholly inside the
// committed set are only reported when there are no new offerings, which
// is the audit-of-committed-state mode used by ValidateBatch.
func auditConflicts(committed, accepted []Offering) []Finding {
	var findings []Finding
	report := func(a, b Offering) {
		ids := []string{a.ScheduleID, b.ScheduleID}
		sort.Strings(ids)
		findings = append(findings, Finding{Code: FindingConflict, ScheduleIDs: ids})
	}

	for i, a := range accepted {
		for _, b := range accepted[i+1:] {
			if overlaps(a, b) {
				report(a, b)
			}
		}
		for _, b := range committed {
			if overlaps(a, b) {
				report(a, b)
			}
		}
	}
	if len(accepted) == 0 {
		for i, a := range committed {
			for _, b := range committed[i+1:] {
				if overlaps(a, b) {
					report(a, b)
				}
			}
		}
	}
	sortFindings(findings)
	return findings
}

func overlaps(a, b Offering) bool {
	if a.Day != b.Day {
		return false
	}
	return a.StartMin < b.EndMin && b.StartMin < a.EndMin
}

func courseCodeOf(offerings []Offering, courseID string) string {
	for _, o := range offerings {
		if o.CourseID == courseID {
			return o.CourseCode
		}
	}
	return ""
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return strings.Join(findings[i].ScheduleIDs, ",") < strings.Join(findings[j].ScheduleIDs, ",")
	})
}

// TotalCredits sums the credit weights of the offerings.
func TotalCredits(offerings []Offering) int {
	total := 0
	for _, o := range offerings {
		total += o.Credits
	}
	return total
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour*60 + minute, nil
}
