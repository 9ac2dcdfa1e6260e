package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/sma-guard-api/internal/models"
	"github.com/noah-isme/sma-guard-api/pkg/timeofday"
)

type conflictSource interface {
	ListForConflict(ctx context.Context, instituteID string, dayOfWeek int, dimension models.ConflictDimension, key, excludeID string) ([]models.ScheduleSlot, error)
}

// SlotCandidate is the shape checked for overlaps before a slot is written.
type SlotCandidate struct {
	InstituteID string
	TeacherID   string
	ClassID     string
	DayOfWeek   int
	Start       timeofday.Minutes
	End         timeofday.Minutes
	Room        string
}

func candidateFromSlot(slot models.ScheduleSlot) SlotCandidate {
	return SlotCandidate{
		InstituteID: slot.InstituteID,
		TeacherID:   slot.TeacherID,
		ClassID:     slot.ClassID,
		DayOfWeek:   slot.DayOfWeek,
		Start:       slot.StartTime,
		End:         slot.EndTime,
		Room:        slot.Room,
	}
}

// ConflictDetector checks weekly slots for teacher, class and room overlaps.
type ConflictDetector struct {
	source conflictSource
}

// NewConflictDetector builds a detector over the given slot source.
func NewConflictDetector(source conflictSource) *ConflictDetector {
	return &ConflictDetector{source: source}
}

// Detect returns every conflict for the candidate, teacher first, then class, then room.
func (d *ConflictDetector) Detect(ctx context.Context, candidate SlotCandidate, excludeID string) ([]models.ScheduleConflict, error) {
	dimensions := []struct {
		dimension models.ConflictDimension
		key       string
	}{
		{models.DimensionTeacher, candidate.TeacherID},
		{models.DimensionClass, candidate.ClassID},
		{models.DimensionRoom, normalizeRoom(candidate.Room)},
	}

	var conflicts []models.ScheduleConflict
	for _, dim := range dimensions {
		if dim.key == "" {
			continue
		}
		existing, err := d.source.ListForConflict(ctx, candidate.InstituteID, candidate.DayOfWeek, dim.dimension, dim.key, excludeID)
		if err != nil {
			return nil, fmt.Errorf("detect %s conflicts: %w", dim.dimension, err)
		}
		conflicts = append(conflicts, overlapping(dim.dimension, candidate, existing, excludeID)...)
	}
	return conflicts, nil
}

// DetectTeacher checks only the teacher dimension.
func (d *ConflictDetector) DetectTeacher(ctx context.Context, instituteID, teacherID string, dayOfWeek int, start, end timeofday.Minutes, excludeID string) ([]models.ScheduleConflict, error) {
	candidate := SlotCandidate{InstituteID: instituteID, TeacherID: teacherID, DayOfWeek: dayOfWeek, Start: start, End: end}
	existing, err := d.source.ListForConflict(ctx, instituteID, dayOfWeek, models.DimensionTeacher, teacherID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("detect teacher conflicts: %w", err)
	}
	return overlapping(models.DimensionTeacher, candidate, existing, excludeID), nil
}

// DetectConflicts is the storage-free form of Detect over an already loaded slot set.
func DetectConflicts(candidate SlotCandidate, existing []models.ScheduleSlot, excludeID string) []models.ScheduleConflict {
	var conflicts []models.ScheduleConflict
	for _, dim := range []models.ConflictDimension{models.DimensionTeacher, models.DimensionClass, models.DimensionRoom} {
		conflicts = append(conflicts, overlapping(dim, candidate, existing, excludeID)...)
	}
	return conflicts
}

func overlapping(dimension models.ConflictDimension, candidate SlotCandidate, existing []models.ScheduleSlot, excludeID string) []models.ScheduleConflict {
	var conflicts []models.ScheduleConflict
	for _, slot := range existing {
		if excludeID != "" && slot.ID == excludeID {
			continue
		}
		if slot.InstituteID != candidate.InstituteID || slot.DayOfWeek != candidate.DayOfWeek {
			continue
		}
		if !sharesDimension(dimension, candidate, slot) {
			continue
		}
		if timeofday.Overlaps(candidate.Start, candidate.End, slot.StartTime, slot.EndTime) {
			conflicts = append(conflicts, models.ScheduleConflict{Dimension: dimension, ConflictingSlot: slot})
		}
	}
	return conflicts
}

func sharesDimension(dimension models.ConflictDimension, candidate SlotCandidate, slot models.ScheduleSlot) bool {
	switch dimension {
	case models.DimensionTeacher:
		return candidate.TeacherID != "" && slot.TeacherID == candidate.TeacherID
	case models.DimensionClass:
		return candidate.ClassID != "" && slot.ClassID == candidate.ClassID
	case models.DimensionRoom:
		room := normalizeRoom(candidate.Room)
		return room != "" && normalizeRoom(slot.Room) == room
	}
	return false
}

func normalizeRoom(room string) string {
	return strings.ToLower(strings.TrimSpace(room))
}
