package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

const guardDutyColumns = `id, institute_id, activity_id, original_teacher_id, substitute_teacher_id, class_id, schedule_slot_id, date, status, feedback_notes, signed_at, created_at`

// GuardDutyRepository persists guard duty audit rows.
type GuardDutyRepository struct {
	db *sqlx.DB
}

// NewGuardDutyRepository constructs the repository.
func NewGuardDutyRepository(db *sqlx.DB) *GuardDutyRepository {
	return &GuardDutyRepository{db: db}
}

// FindByNaturalKey loads the row for (original teacher, class, date). Returns sql.ErrNoRows when absent.
func (r *GuardDutyRepository) FindByNaturalKey(ctx context.Context, key models.GuardDutyKey) (*models.GuardDuty, error) {
	query := "SELECT " + guardDutyColumns + " FROM guard_duties WHERE original_teacher_id = $1 AND class_id = $2 AND date = $3"
	var duty models.GuardDuty
	if err := r.db.GetContext(ctx, &duty, query, key.OriginalTeacherID, key.ClassID, dateOnly(key.Date)); err != nil {
		return nil, err
	}
	return &duty, nil
}

// Record inserts a guard duty and, when a substitute is set, bumps that teacher's workload in the same
// transaction. It reports false without writing anything when the natural key already exists.
func (r *GuardDutyRepository) Record(ctx context.Context, duty *models.GuardDuty) (created bool, err error) {
	if duty.ID == "" {
		duty.ID = uuid.NewString()
	}
	if duty.CreatedAt.IsZero() {
		duty.CreatedAt = time.Now().UTC()
	}
	duty.Date = dateOnly(duty.Date)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin record guard duty: %w", err)
	}
	defer func() {
		if err != nil || !created {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO guard_duties (id, institute_id, activity_id, original_teacher_id, substitute_teacher_id, class_id, schedule_slot_id, date, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (original_teacher_id, class_id, date) DO NOTHING RETURNING id`
	var id string
	err = tx.QueryRowxContext(ctx, insert,
		duty.ID, duty.InstituteID, duty.ActivityID, duty.OriginalTeacherID, duty.SubstituteTeacherID,
		duty.ClassID, duty.ScheduleSlotID, duty.Date, duty.Status, duty.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert guard duty: %w", err)
	}

	if duty.SubstituteTeacherID != nil {
		if err = incrementWorkload(ctx, tx, *duty.SubstituteTeacherID); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit guard duty: %w", err)
	}
	return true, nil
}

// List returns guard duties with pagination.
func (r *GuardDutyRepository) List(ctx context.Context, filter models.GuardDutyFilter) ([]models.GuardDuty, int, error) {
	clause, args := guardDutyConditions(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM guard_duties%s ORDER BY date ASC, created_at ASC LIMIT %d OFFSET %d", guardDutyColumns, clause, size, offset)
	var duties []models.GuardDuty
	if err := r.db.SelectContext(ctx, &duties, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list guard duties: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM guard_duties"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count guard duties: %w", err)
	}
	return duties, total, nil
}

// ListByActivity returns every guard duty generated for an activity.
func (r *GuardDutyRepository) ListByActivity(ctx context.Context, activityID string) ([]models.GuardDuty, error) {
	query := "SELECT " + guardDutyColumns + " FROM guard_duties WHERE activity_id = $1 ORDER BY date ASC, created_at ASC"
	var duties []models.GuardDuty
	if err := r.db.SelectContext(ctx, &duties, query, activityID); err != nil {
		return nil, fmt.Errorf("list activity guard duties: %w", err)
	}
	return duties, nil
}

// ListPendingOn returns unresolved guard duties dated on the given day across institutes.
func (r *GuardDutyRepository) ListPendingOn(ctx context.Context, date time.Time) ([]models.GuardDuty, error) {
	query := "SELECT " + guardDutyColumns + " FROM guard_duties WHERE status = $1 AND date = $2 ORDER BY institute_id ASC, created_at ASC"
	var duties []models.GuardDuty
	if err := r.db.SelectContext(ctx, &duties, query, models.GuardStatusPendingAssignment, dateOnly(date)); err != nil {
		return nil, fmt.Errorf("list pending guard duties: %w", err)
	}
	return duties, nil
}

// Stats aggregates guard duty counts for an institute over an optional date range.
func (r *GuardDutyRepository) Stats(ctx context.Context, instituteID string, from, to *time.Time) (*models.GuardDutyStats, error) {
	clause, args := guardDutyConditions(models.GuardDutyFilter{InstituteID: instituteID, From: from, To: to})
	query := `SELECT COUNT(*) AS total_guards,
COUNT(*) FILTER (WHERE status = 'assigned') AS assigned_guards,
COUNT(*) FILTER (WHERE status = 'pending_assignment') AS pending_guards,
COUNT(*) FILTER (WHERE status = 'completed') AS completed_guards
FROM guard_duties` + clause
	var stats models.GuardDutyStats
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("guard duty stats: %w", err)
	}
	return &stats, nil
}

func guardDutyConditions(filter models.GuardDutyFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.InstituteID != "" {
		conditions = append(conditions, fmt.Sprintf("institute_id = $%d", len(args)+1))
		args = append(args, filter.InstituteID)
	}
	if filter.ActivityID != "" {
		conditions = append(conditions, fmt.Sprintf("activity_id = $%d", len(args)+1))
		args = append(args, filter.ActivityID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, dateOnly(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, dateOnly(*filter.To))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
