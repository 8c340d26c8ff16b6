package models

import "time"

// NotificationSeverity classifies a notification for display purposes.
type NotificationSeverity string

const (
	NotificationInfo    NotificationSeverity = "INFO"
	NotificationSuccess NotificationSeverity = "SUCCESS"
	NotificationWarning NotificationSeverity = "WARNING"
	NotificationError   NotificationSeverity = "ERROR"
)

// Notification is a persisted in-app message for one recipient.
type Notification struct {
	ID          string               `db:"id" json:"id"`
	RecipientID string               `db:"recipient_id" json:"recipient_id"`
	Title       string               `db:"title" json:"title"`
	Message     string               `db:"message" json:"message"`
	Severity    NotificationSeverity `db:"severity" json:"severity"`
	Read        bool                 `db:"read" json:"read"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter scopes listing queries.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Page        int
	PageSize    int
}
