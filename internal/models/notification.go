package models

import "time"

// NotificationType enumerates guard duty events.
type NotificationType string

// Guard duty notification events.
const (
	NotificationGuardAssigned         NotificationType = "guard_assigned"
	NotificationGuardAssignmentFailed NotificationType = "guard_assignment_failed"
	NotificationGuardPendingReminder  NotificationType = "guard_assignment_pending_reminder"
)

// AudienceManagement addresses institute management instead of a single user.
const AudienceManagement = "management"

// NotificationEvent is the fire-and-forget payload emitted by guard duty flows.
type NotificationEvent struct {
	Type        NotificationType `json:"type"`
	GuardDutyID string           `json:"guard_duty_id"`
	InstituteID string           `json:"institute_id"`
	RecipientID string           `json:"recipient_id,omitempty"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// Escalates reports whether the event must reach institute management.
func (e NotificationEvent) Escalates() bool {
	return e.Type == NotificationGuardAssignmentFailed || e.Type == NotificationGuardPendingReminder
}

// Notification is a persisted inbox entry.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	InstituteID string           `db:"institute_id" json:"institute_id"`
	Recipient   string           `db:"recipient" json:"recipient"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Content     string           `db:"content" json:"content"`
	RelatedType string           `db:"related_type" json:"related_type"`
	RelatedID   string           `db:"related_id" json:"related_id"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}
