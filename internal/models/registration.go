package models

import "time"

// RegistrationStatus represents the lifecycle of a volunteer registration.
type RegistrationStatus string

const (
	RegistrationStatusPending  RegistrationStatus = "PENDING"
	RegistrationStatusApproved RegistrationStatus = "APPROVED"
	RegistrationStatusRejected RegistrationStatus = "REJECTED"
	RegistrationStatusRemoved  RegistrationStatus = "REMOVED"
	RegistrationStatusAttended RegistrationStatus = "ATTENDED"
)

// Valid returns true when the status is a supported value.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusApproved, RegistrationStatusRejected,
		RegistrationStatusRemoved, RegistrationStatusAttended:
		return true
	default:
		return false
	}
}

// CountsTowardCapacity reports whether a registration in this status
// occupies one of the event's volunteer slots.
func (s RegistrationStatus) CountsTowardCapacity() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusApproved, RegistrationStatusAttended:
		return true
	default:
		return false
	}
}

// Registration is a volunteer's application to one event. At most one
// row exists per (event, volunteer) pair, enforced by a unique index.
type Registration struct {
	ID                  string             `db:"id" json:"id"`
	EventID             string             `db:"event_id" json:"event_id"`
	VolunteerID         string             `db:"volunteer_id" json:"volunteer_id"`
	Status              RegistrationStatus `db:"status" json:"status"`
	JoinedAt            time.Time          `db:"joined_at" json:"joined_at"`
	ApprovedAt          *time.Time         `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason     *string            `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CertificateURL      *string            `db:"certificate_url" json:"certificate_url,omitempty"`
	CertificateIssuedAt *time.Time         `db:"certificate_issued_at" json:"certificate_issued_at,omitempty"`
}

// RegistrationDetail enriches Registration with event and volunteer info.
type RegistrationDetail struct {
	Registration
	EventTitle     string      `db:"event_title" json:"event_title"`
	EventStartAt   time.Time   `db:"event_start_at" json:"event_start_at"`
	EventStatus    EventStatus `db:"event_status" json:"event_status"`
	OrganizerID    string      `db:"organizer_id" json:"organizer_id"`
	OrganizerName  string      `db:"organizer_name" json:"organizer_name"`
	VolunteerName  string      `db:"volunteer_name" json:"volunteer_name"`
	VolunteerEmail string      `db:"volunteer_email" json:"volunteer_email"`
}

// RegistrationFilter scopes listing queries.
type RegistrationFilter struct {
	EventID     string
	VolunteerID string
	OrganizerID string
	Status      RegistrationStatus
	Page        int
	PageSize    int
}
