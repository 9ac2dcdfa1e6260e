package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

// ActivityRepository reads the activity registry. Activities are owned elsewhere.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// FindByID loads an activity.
func (r *ActivityRepository) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	const query = `SELECT id, institute_id, title, start_date, end_date FROM activities WHERE id = $1`
	var activity models.Activity
	if err := r.db.GetContext(ctx, &activity, query, id); err != nil {
		return nil, err
	}
	return &activity, nil
}

// ListSupervisorIDs returns the supervising teachers of an activity.
func (r *ActivityRepository) ListSupervisorIDs(ctx context.Context, activityID string) ([]string, error) {
	const query = `SELECT teacher_id FROM activity_supervisors WHERE activity_id = $1 ORDER BY teacher_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, activityID); err != nil {
		return nil, fmt.Errorf("list activity supervisors: %w", err)
	}
	return ids, nil
}

// ListEnrolledStudentIDs returns students going on the activity.
func (r *ActivityRepository) ListEnrolledStudentIDs(ctx context.Context, activityID string) ([]string, error) {
	const query = `SELECT student_id FROM activity_enrollments WHERE activity_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, activityID); err != nil {
		return nil, fmt.Errorf("list activity enrollments: %w", err)
	}
	return ids, nil
}
