package models

import (
	"errors"
	"time"

	"github.com/noah-isme/sma-guard-api/pkg/timeofday"
)

// ErrSlotOverlap is returned by storage when an exclusion constraint rejects an overlapping slot.
var ErrSlotOverlap = errors.New("schedule slot overlaps an existing slot")

// DayNames maps dayOfWeek (0 = Sunday) to display names.
var DayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// ScheduleSlot is a recurring weekly timetable entry.
type ScheduleSlot struct {
	ID          string            `db:"id" json:"id"`
	InstituteID string            `db:"institute_id" json:"institute_id"`
	TeacherID   string            `db:"teacher_id" json:"teacher_id"`
	ClassID     string            `db:"class_id" json:"class_id"`
	SubjectID   string            `db:"subject_id" json:"subject_id"`
	DayOfWeek   int               `db:"day_of_week" json:"day_of_week"`
	StartTime   timeofday.Minutes `db:"start_minute" json:"start_time"`
	EndTime     timeofday.Minutes `db:"end_minute" json:"end_time"`
	Room        string            `db:"room" json:"room"`
	Notes       string            `db:"notes" json:"notes"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// Range returns the slot's half-open time interval.
func (s ScheduleSlot) Range() timeofday.Range {
	return timeofday.Range{Start: s.StartTime, End: s.EndTime}
}

// ScheduleFilter narrows slot listings. DayOfWeek is optional.
type ScheduleFilter struct {
	InstituteID string
	TeacherID   string
	ClassID     string
	SubjectID   string
	Room        string
	DayOfWeek   *int
}

// ConflictDimension names the shared resource two slots collide on.
type ConflictDimension string

// Conflict dimensions in reporting order.
const (
	DimensionTeacher ConflictDimension = "teacher"
	DimensionClass   ConflictDimension = "class"
	DimensionRoom    ConflictDimension = "room"
)

// ScheduleConflict describes an existing slot colliding with a candidate.
type ScheduleConflict struct {
	Dimension       ConflictDimension `json:"dimension"`
	ConflictingSlot ScheduleSlot      `json:"conflicting_slot"`
}

// ScheduleConflictError is returned when a slot collides with existing ones.
type ScheduleConflictError struct {
	Message   string             `json:"message"`
	Conflicts []ScheduleConflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// ScheduleStats aggregates an institute's timetable.
type ScheduleStats struct {
	InstituteID string         `json:"institute_id"`
	TotalSlots  int            `json:"total_slots"`
	ByDay       map[string]int `json:"by_day"`
	ByTeacher   map[string]int `json:"by_teacher"`
	ByClass     map[string]int `json:"by_class"`
}
