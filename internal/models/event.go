package models

import "time"

// EventStatus represents the lifecycle state of an event.
type EventStatus string

const (
	EventStatusDraft           EventStatus = "DRAFT"
	EventStatusPendingApproval EventStatus = "PENDING_APPROVAL"
	EventStatusPublished       EventStatus = "PUBLISHED"
	EventStatusRejected        EventStatus = "REJECTED"
	EventStatusCompleted       EventStatus = "COMPLETED"
	EventStatusCancelled       EventStatus = "CANCELLED"
)

// Valid returns true when the status is a supported value.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusDraft, EventStatusPendingApproval, EventStatusPublished,
		EventStatusRejected, EventStatusCompleted, EventStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s EventStatus) Terminal() bool {
	switch s {
	case EventStatusRejected, EventStatusCompleted, EventStatusCancelled:
		return true
	default:
		return false
	}
}

// Event represents an organizer-owned activity with a volunteer capacity.
type Event struct {
	ID                  string      `db:"id" json:"id"`
	OrganizerID         string      `db:"organizer_id" json:"organizer_id"`
	Title               string      `db:"title" json:"title"`
	Category            string      `db:"category" json:"category"`
	Description         *string     `db:"description" json:"description,omitempty"`
	LocationName        *string     `db:"location_name" json:"location_name,omitempty"`
	Address             *string     `db:"address" json:"address,omitempty"`
	City                *string     `db:"city" json:"city,omitempty"`
	StartAt             time.Time   `db:"start_at" json:"start_at"`
	EndAt               *time.Time  `db:"end_at" json:"end_at,omitempty"`
	RegistrationOpenAt  *time.Time  `db:"registration_open_at" json:"registration_open_at,omitempty"`
	RegistrationCloseAt *time.Time  `db:"registration_close_at" json:"registration_close_at,omitempty"`
	RequiredVolunteers  int         `db:"required_volunteers" json:"required_volunteers"`
	CurrentVolunteers   int         `db:"current_volunteers" json:"current_volunteers"`
	SkillsRequired      *string     `db:"skills_required" json:"skills_required,omitempty"`
	Status              EventStatus `db:"status" json:"status"`
	CancellationReason  *string     `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

// EventDetail enriches Event with organizer info.
type EventDetail struct {
	Event
	OrganizerName  string `db:"organizer_name" json:"organizer_name"`
	OrganizerEmail string `db:"organizer_email" json:"organizer_email"`
}

// EventFilter provides filters for listing events.
type EventFilter struct {
	OrganizerID string
	Status      EventStatus
	Category    string
	City        string
	Search      string
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
