package models

import "time"

// Feedback is a volunteer's comment and rating on their registration.
type Feedback struct {
	ID             string    `db:"id" json:"id"`
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	Comment        string    `db:"comment" json:"comment"`
	Rating         int       `db:"rating" json:"rating"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// FeedbackDetail enriches Feedback with the submitting volunteer.
type FeedbackDetail struct {
	Feedback
	VolunteerID   string `db:"volunteer_id" json:"volunteer_id"`
	VolunteerName string `db:"volunteer_name" json:"volunteer_name"`
	EventID       string `db:"event_id" json:"event_id"`
}
