// Package ledger holds the general class-attendance ledger that report
// generation reads. The verification gate mirrors accepted session
// check-ins into it; nothing in this service ever updates or deletes rows.
package ledger

import (
	"context"
	"database/sql"
	"time"
)

// Status is the ledger's attendance status vocabulary.
type Status string

const (
	StatusHadir     Status = "Hadir"     // present
	StatusTerlambat Status = "Terlambat" // late
)

// Entry is one student's attendance in a class session as reporting sees it.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ClassID    string    `json:"class_id"`
	SubjectID  string    `json:"subject_id"`
	StudentID  string    `json:"student_id"`
	Status     Status    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository reads the ledger for dashboards and reports.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListByClassDate returns ledger entries for a class on a calendar date.
func (r *Repository) ListByClassDate(ctx context.Context, classID, date string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, class_id, subject_id, student_id, status, recorded_at
		FROM class_attendance_ledger
		WHERE class_id = $1 AND recorded_at::date = $2
		ORDER BY recorded_at
	`, classID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ClassID, &e.SubjectID, &e.StudentID, &e.Status, &e.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
