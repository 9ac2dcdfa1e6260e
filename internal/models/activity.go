package models

import "time"

// Activity is a supervised off-site activity owned by the activity registry.
type Activity struct {
	ID          string    `db:"id" json:"id"`
	InstituteID string    `db:"institute_id" json:"institute_id"`
	Title       string    `db:"title" json:"title"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
	EndDate     time.Time `db:"end_date" json:"end_date"`
}
