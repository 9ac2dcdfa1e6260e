package models

import "time"

// Teacher represents an instructor record within an institute.
type Teacher struct {
	ID            string    `db:"id" json:"id"`
	InstituteID   string    `db:"institute_id" json:"institute_id"`
	FullName      string    `db:"full_name" json:"full_name"`
	Email         string    `db:"email" json:"email"`
	WorkloadScore int       `db:"workload_score" json:"workload_score"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
