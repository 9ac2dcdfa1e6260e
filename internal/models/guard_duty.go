package models

import "time"

// GuardDutyStatus tracks the lifecycle of a coverage assignment.
type GuardDutyStatus string

// Guard duty statuses. Completed is only reached through the external sign-off flow.
const (
	GuardStatusAssigned          GuardDutyStatus = "assigned"
	GuardStatusPendingAssignment GuardDutyStatus = "pending_assignment"
	GuardStatusCompleted         GuardDutyStatus = "completed"
)

// GuardStatusError marks a lesson a run could not process. It only appears in run summaries and is never stored.
const GuardStatusError GuardDutyStatus = "error"

// GuardDuty is the append-only audit record of one covered (or uncovered) lesson.
type GuardDuty struct {
	ID                  string          `db:"id" json:"id"`
	InstituteID         string          `db:"institute_id" json:"institute_id"`
	ActivityID          string          `db:"activity_id" json:"activity_id"`
	OriginalTeacherID   string          `db:"original_teacher_id" json:"original_teacher_id"`
	SubstituteTeacherID *string         `db:"substitute_teacher_id" json:"substitute_teacher_id"`
	ClassID             string          `db:"class_id" json:"class_id"`
	ScheduleSlotID      *string         `db:"schedule_slot_id" json:"schedule_slot_id,omitempty"`
	Date                time.Time       `db:"date" json:"date"`
	Status              GuardDutyStatus `db:"status" json:"status"`
	FeedbackNotes       *string         `db:"feedback_notes" json:"feedback_notes,omitempty"`
	SignedAt            *time.Time      `db:"signed_at" json:"signed_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// GuardDutyKey is the natural key a run may create at most one row for.
type GuardDutyKey struct {
	OriginalTeacherID string
	ClassID           string
	Date              time.Time
}

// GuardDutyFilter narrows guard duty listings.
type GuardDutyFilter struct {
	InstituteID string
	ActivityID  string
	Status      GuardDutyStatus
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// GuardDutyStats summarises an institute's guard duties over an optional date range.
type GuardDutyStats struct {
	TotalGuards     int     `db:"total_guards" json:"total_guards"`
	AssignedGuards  int     `db:"assigned_guards" json:"assigned_guards"`
	PendingGuards   int     `db:"pending_guards" json:"pending_guards"`
	CompletedGuards int     `db:"completed_guards" json:"completed_guards"`
	AssignmentRate  float64 `db:"-" json:"assignment_rate"`
}

// SubstituteReason explains which selection tier produced a candidate.
type SubstituteReason string

// Selection tiers, in precedence order.
const (
	ReasonSameSubject SubstituteReason = "same_subject"
	ReasonAvailable   SubstituteReason = "available"
)

// SubstituteCandidate is the outcome of a substitute search.
type SubstituteCandidate struct {
	TeacherID     string           `json:"teacher_id"`
	FullName      string           `json:"full_name"`
	WorkloadScore int              `json:"workload_score"`
	Reason        SubstituteReason `json:"reason"`
}

// GuardAssignmentDetail reports the outcome for one vacated lesson.
type GuardAssignmentDetail struct {
	GuardDutyID           string          `json:"guard_duty_id"`
	Date                  string          `json:"date"`
	OriginalTeacherID     string          `json:"original_teacher_id"`
	OriginalTeacherName   string          `json:"original_teacher_name"`
	SubstituteTeacherID   *string         `json:"substitute_teacher_id"`
	SubstituteTeacherName *string         `json:"substitute_teacher_name"`
	ClassSubject          string          `json:"class_subject"`
	TimeRange             string          `json:"time_range"`
	Status                GuardDutyStatus `json:"status"`
	RemainingStudents     int             `json:"remaining_students"`
}

// GuardAssignmentSummary is the aggregated result of one orchestration run.
type GuardAssignmentSummary struct {
	ActivityID        string                  `json:"activity_id"`
	TotalGuardsNeeded int                     `json:"total_guards_needed"`
	GuardsAssigned    int                     `json:"guards_assigned"`
	GuardsPending     int                     `json:"guards_pending"`
	Details           []GuardAssignmentDetail `json:"details"`
}
