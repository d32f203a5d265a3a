package gate

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists gate records, tap logs, and school settings in
// Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertRecord writes the day's check-in. The UNIQUE(student_id, date)
// constraint turns a same-day duplicate into inserted == false.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO gate_attendance_records
			(id, student_id, school_id, record_date, check_in_time, check_in_method, status, late_arrival, late_minutes, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (student_id, record_date) DO NOTHING
	`, rec.ID, rec.StudentID, rec.SchoolID, rec.Date, rec.CheckInTime, rec.CheckInMethod,
		rec.Status, rec.LateArrival, rec.LateMinutes, rec.Notes)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const recordColumns = `
	id, student_id, school_id, to_char(record_date, 'YYYY-MM-DD'), check_in_time, check_in_method,
	check_out_time, check_out_method, status, late_arrival, late_minutes, notes`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var outTime sql.NullTime
	var outMethod sql.NullString
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.SchoolID, &rec.Date, &rec.CheckInTime, &rec.CheckInMethod,
		&outTime, &outMethod, &rec.Status, &rec.LateArrival, &rec.LateMinutes, &rec.Notes); err != nil {
		return nil, err
	}
	if outTime.Valid {
		t := outTime.Time
		rec.CheckOutTime = &t
	}
	if outMethod.Valid {
		m := Method(outMethod.String)
		rec.CheckOutMethod = &m
	}
	return &rec, nil
}

// GetRecord returns a record by id, or nil when unknown.
func (r *Repository) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM gate_attendance_records WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// OpenRecordToday returns the student's inside_school record for the
// date, or nil.
func (r *Repository) OpenRecordToday(ctx context.Context, studentID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM gate_attendance_records
		WHERE student_id = $1 AND record_date = $2 AND status = 'inside_school'
	`, studentID, date)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// CompleteCheckOut conditionally closes a record. The WHERE clause keeps
// the transition single-statement; GREATEST preserves the
// check-out-not-before-check-in invariant against clock skew.
func (r *Repository) CompleteCheckOut(ctx context.Context, id string, method Method, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE gate_attendance_records
		SET status = 'outside_school',
		    check_out_time = GREATEST(check_in_time, $3),
		    check_out_method = $2
		WHERE id = $1 AND status = 'inside_school'
	`, id, method, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SchoolStartTime returns the configured "HH:MM" gate start time.
func (r *Repository) SchoolStartTime(ctx context.Context, schoolID string) (string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT start_time FROM school_settings WHERE school_id = $1
	`, schoolID)
	var start string
	if err := row.Scan(&start); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "07:00", nil
		}
		return "", err
	}
	return start, nil
}

// AppendTapLog writes one audit row. The table has no update or delete
// path anywhere in this service.
func (r *Repository) AppendTapLog(ctx context.Context, entry TapLog) error {
	var studentID sql.NullString
	if entry.StudentID != "" {
		studentID = sql.NullString{String: entry.StudentID, Valid: true}
	}
	var reason sql.NullString
	if entry.FailureReason != "" {
		reason = sql.NullString{String: entry.FailureReason, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tap_logs (card_uid, student_id, tap_time, tap_type, success, failure_reason, gate_device_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.CardUID, studentID, entry.TapTime, entry.TapType, entry.Success, reason, entry.GateDeviceID)
	return err
}

// ListRecords returns a school's gate records for a date, for dashboards.
func (r *Repository) ListRecords(ctx context.Context, schoolID, date string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM gate_attendance_records
		WHERE school_id = $1 AND record_date = $2
		ORDER BY check_in_time
		LIMIT $3 OFFSET $4
	`, schoolID, date, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}
