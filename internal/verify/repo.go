package verify

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"presensi/internal/ledger"
)

// Repository commits accepted scans to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordCheckIn inserts the check-in and its ledger mirror in one
// transaction. The insert leans on the UNIQUE(session_id, student_id)
// constraint: a conflicting concurrent scan makes this a no-op and the
// whole transaction rolls back, so the loser observes inserted == false
// with nothing written.
func (r *Repository) RecordCheckIn(ctx context.Context, c CheckIn, classID, subjectID string, ls ledger.Status) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var lat, lon sql.NullFloat64
	if c.Location != nil {
		lat = sql.NullFloat64{Float64: c.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: c.Location.Longitude, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO session_checkins (session_id, student_id, checked_at, latitude, longitude, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, c.SessionID, c.StudentID, c.Timestamp, lat, lon, c.Status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO class_attendance_ledger (id, session_id, class_id, subject_id, student_id, status, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), c.SessionID, classID, subjectID, c.StudentID, ls, c.Timestamp)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// GetCheckIn returns the stored check-in for a (session, student) pair,
// or nil when the student has not scanned.
func (r *Repository) GetCheckIn(ctx context.Context, sessionID, studentID string) (*CheckIn, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, student_id, checked_at, latitude, longitude, status
		FROM session_checkins
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	var c CheckIn
	var lat, lon sql.NullFloat64
	if err := row.Scan(&c.SessionID, &c.StudentID, &c.Timestamp, &lat, &lon, &c.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lat.Valid && lon.Valid {
		c.Location = &Location{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return &c, nil
}

// ListBySession returns all check-ins for a session in scan order.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]CheckIn, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, student_id, checked_at, latitude, longitude, status
		FROM session_checkins
		WHERE session_id = $1
		ORDER BY checked_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CheckIn
	for rows.Next() {
		var c CheckIn
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&c.SessionID, &c.StudentID, &c.Timestamp, &lat, &lon, &c.Status); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			c.Location = &Location{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
