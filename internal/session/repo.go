package session

import (
	"context"
	"database/sql"
	"errors"
)

// Repository persists attendance sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	var lat, lon, radius sql.NullFloat64
	if s.Location != nil {
		lat = sql.NullFloat64{Float64: s.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: s.Location.Longitude, Valid: true}
		radius = sql.NullFloat64{Float64: s.Location.RadiusMeters, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, class_id, subject_id, teacher_id, session_date, start_time, end_time, latitude, longitude, radius_meters)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.ClassID, s.SubjectID, s.TeacherID, s.Date, s.StartTime, s.EndTime, lat, lon, radius)
	return err
}

// Get returns a session by id, or nil when unknown.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_id, subject_id, teacher_id, session_date, start_time, end_time,
		       latitude, longitude, radius_meters, created_at
		FROM attendance_sessions
		WHERE id = $1
	`, id)
	var s Session
	var lat, lon, radius sql.NullFloat64
	if err := row.Scan(&s.ID, &s.ClassID, &s.SubjectID, &s.TeacherID, &s.Date, &s.StartTime, &s.EndTime,
		&lat, &lon, &radius, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lat.Valid && lon.Valid && radius.Valid {
		s.Location = &Geofence{Latitude: lat.Float64, Longitude: lon.Float64, RadiusMeters: radius.Float64}
	}
	return &s, nil
}

// ListByClassDate returns sessions for a class on a calendar date, newest
// first. Dashboards use this; verification goes through Get.
func (r *Repository) ListByClassDate(ctx context.Context, classID string, date string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class_id, subject_id, teacher_id, session_date, start_time, end_time,
		       latitude, longitude, radius_meters, created_at
		FROM attendance_sessions
		WHERE class_id = $1 AND session_date = $2
		ORDER BY start_time DESC
	`, classID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		var lat, lon, radius sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.ClassID, &s.SubjectID, &s.TeacherID, &s.Date, &s.StartTime, &s.EndTime,
			&lat, &lon, &radius, &s.CreatedAt); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid && radius.Valid {
			s.Location = &Geofence{Latitude: lat.Float64, Longitude: lon.Float64, RadiusMeters: radius.Float64}
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
