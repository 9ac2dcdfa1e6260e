package models

// Class represents a class group (rombel) within an institute.
type Class struct {
	ID          string `db:"id" json:"id"`
	InstituteID string `db:"institute_id" json:"institute_id"`
	Name        string `db:"name" json:"name"`
}
