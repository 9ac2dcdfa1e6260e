package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// EnrollmentRepository reads the class roster.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListStudentIDsByClass returns the students enrolled in a class.
func (r *EnrollmentRepository) ListStudentIDsByClass(ctx context.Context, classID string) ([]string, error) {
	const query = `SELECT student_id FROM student_class_enrollments WHERE class_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return ids, nil
}
