package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

const teacherColumns = `id, institute_id, full_name, email, workload_score, active, created_at, updated_at`

// TeacherRepository is the teacher directory: reads plus the workload counter.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// ListActiveByInstitute returns active teachers ordered by workload then id.
func (r *TeacherRepository) ListActiveByInstitute(ctx context.Context, instituteID string) ([]models.Teacher, error) {
	query := "SELECT " + teacherColumns + " FROM teachers WHERE institute_id = $1 AND active = TRUE ORDER BY workload_score ASC, id ASC"
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, instituteID); err != nil {
		return nil, fmt.Errorf("list active teachers: %w", err)
	}
	return teachers, nil
}

// FindByIDs fetches several teachers at once. Missing ids are skipped.
func (r *TeacherRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Teacher, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT "+teacherColumns+" FROM teachers WHERE id IN (?) ORDER BY id ASC", ids)
	if err != nil {
		return nil, fmt.Errorf("build teacher lookup: %w", err)
	}
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find teachers: %w", err)
	}
	return teachers, nil
}

// incrementWorkload adds one to a teacher's workload score. It runs inside the guard duty insert transaction.
func incrementWorkload(ctx context.Context, exec sqlx.ExecerContext, id string) error {
	const query = `UPDATE teachers SET workload_score = workload_score + 1, updated_at = $2 WHERE id = $1`
	res, err := exec.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment workload: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("increment workload: teacher %s not found", id)
	}
	return nil
}
