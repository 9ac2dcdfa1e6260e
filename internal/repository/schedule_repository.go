package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

const scheduleColumns = `id, institute_id, teacher_id, class_id, subject_id, day_of_week, start_minute, end_minute, room, notes, created_at, updated_at`

// pgExclusionViolation is the SQLSTATE raised by EXCLUDE constraints.
const pgExclusionViolation = "23P01"

// ScheduleRepository provides persistence for weekly schedule slots.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// List returns slots matching the filter ordered by day and start time.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleSlot, error) {
	var conditions []string
	var args []interface{}

	if filter.InstituteID != "" {
		conditions = append(conditions, fmt.Sprintf("institute_id = $%d", len(args)+1))
		args = append(args, filter.InstituteID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(BTRIM(room)) = LOWER(BTRIM($%d))", len(args)+1))
		args = append(args, strings.TrimSpace(filter.Room))
	}
	if filter.DayOfWeek != nil {
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)+1))
		args = append(args, *filter.DayOfWeek)
	}

	query := "SELECT " + scheduleColumns + " FROM schedule_slots"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY day_of_week ASC, start_minute ASC, id ASC"

	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list schedule slots: %w", err)
	}
	return slots, nil
}

// FindByID loads a slot by id.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	query := "SELECT " + scheduleColumns + " FROM schedule_slots WHERE id = $1"
	var slot models.ScheduleSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// ListForConflict returns the institute's slots on a weekday sharing one dimension key, minus excludeID.
func (r *ScheduleRepository) ListForConflict(ctx context.Context, instituteID string, dayOfWeek int, dimension models.ConflictDimension, key, excludeID string) ([]models.ScheduleSlot, error) {
	var column string
	switch dimension {
	case models.DimensionTeacher:
		column = "teacher_id = $3"
	case models.DimensionClass:
		column = "class_id = $3"
	case models.DimensionRoom:
		column = "LOWER(BTRIM(room)) = LOWER(BTRIM($3))"
		key = strings.TrimSpace(key)
	default:
		return nil, fmt.Errorf("unknown conflict dimension %q", dimension)
	}

	query := "SELECT " + scheduleColumns + " FROM schedule_slots WHERE institute_id = $1 AND day_of_week = $2 AND " + column
	args := []interface{}{instituteID, dayOfWeek, key}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	query += " ORDER BY start_minute ASC, id ASC"

	var slots []models.ScheduleSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list %s conflict candidates: %w", dimension, err)
	}
	return slots, nil
}

// ListTeacherIDsBySubject returns the distinct teachers who teach a subject anywhere in the institute timetable.
func (r *ScheduleRepository) ListTeacherIDsBySubject(ctx context.Context, instituteID, subjectID string) ([]string, error) {
	const query = `SELECT DISTINCT teacher_id FROM schedule_slots WHERE institute_id = $1 AND subject_id = $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, instituteID, subjectID); err != nil {
		return nil, fmt.Errorf("list subject teachers: %w", err)
	}
	return ids, nil
}

// Create stores a new slot. Overlaps rejected by the exclusion constraints surface as models.ErrSlotOverlap.
func (r *ScheduleRepository) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	const query = `INSERT INTO schedule_slots (id, institute_id, teacher_id, class_id, subject_id, day_of_week, start_minute, end_minute, room, notes, created_at, updated_at) VALUES (:id, :institute_id, :teacher_id, :class_id, :subject_id, :day_of_week, :start_minute, :end_minute, :room, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create schedule slot: %w", translateOverlap(err))
	}
	return nil
}

// Update modifies a slot record.
func (r *ScheduleRepository) Update(ctx context.Context, slot *models.ScheduleSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_slots SET teacher_id = :teacher_id, class_id = :class_id, subject_id = :subject_id, day_of_week = :day_of_week, start_minute = :start_minute, end_minute = :end_minute, room = :room, notes = :notes, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("update schedule slot: %w", translateOverlap(err))
	}
	return nil
}

// Delete removes a slot by id. Guard duties referencing it are kept.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedule_slots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule slot: %w", err)
	}
	return nil
}

func translateOverlap(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgExclusionViolation {
		return fmt.Errorf("%w (%s)", models.ErrSlotOverlap, pqErr.Constraint)
	}
	return err
}
