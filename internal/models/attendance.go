package models

import "time"

// AttendanceStatus represents the per-date mark for a registration.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// Attendance is a single present/absent mark for one registration on one
// calendar date. Re-marking the same date overwrites the row.
type Attendance struct {
	ID             string           `db:"id" json:"id"`
	RegistrationID string           `db:"registration_id" json:"registration_id"`
	Date           time.Time        `db:"date" json:"date"`
	Status         AttendanceStatus `db:"status" json:"status"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceSummary aggregates marks for one registration.
type AttendanceSummary struct {
	Present int `db:"present" json:"present"`
	Total   int `db:"total" json:"total"`
}

// Percentage returns the share of records marked present, in percent.
func (s AttendanceSummary) Percentage() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Present) * 100.0 / float64(s.Total)
}
