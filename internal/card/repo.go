package card

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists card bindings in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert creates a new binding in active state. A partial unique index on
// card_uid WHERE status = 'active' backs the one-active-binding invariant;
// a conflict surfaces as inserted == false.
func (r *Repository) Insert(ctx context.Context, c Card) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rfid_cards (card_uid, student_id, school_id, status, assigned_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (card_uid) WHERE status = 'active' DO NOTHING
	`, c.CardUID, c.StudentID, c.SchoolID, c.Status, c.AssignedDate, c.Notes)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// currentBinding resolves a UID to its newest row. Older rows for the
// same UID are retired history and must never be touched by mutations.
const currentBinding = `(
	SELECT id FROM rfid_cards
	WHERE card_uid = $1
	ORDER BY assigned_date DESC, id DESC
	LIMIT 1
)`

// Get returns the current binding for a UID, or nil when unknown.
func (r *Repository) Get(ctx context.Context, uid string) (*Card, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT card_uid, student_id, school_id, status, assigned_date, last_used, total_taps, notes
		FROM rfid_cards
		WHERE id = `+currentBinding+`
	`, uid)
	var c Card
	if err := row.Scan(&c.CardUID, &c.StudentID, &c.SchoolID, &c.Status, &c.AssignedDate, &c.LastUsed, &c.TotalTaps, &c.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// SetStatus updates the current binding's status and appends a note.
// Historical rows for the UID keep the status they retired with.
func (r *Repository) SetStatus(ctx context.Context, uid string, status Status, notes string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rfid_cards
		SET status = $2, notes = CASE WHEN $3 = '' THEN notes ELSE $3 END, updated_at = NOW()
		WHERE id = `+currentBinding+`
	`, uid, status, notes)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the current binding. Retired rows and tap logs
// referencing the UID stay behind.
func (r *Repository) Delete(ctx context.Context, uid string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rfid_cards WHERE id = `+currentBinding, uid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordTap bumps the current binding's usage counters after an
// accepted tap.
func (r *Repository) RecordTap(ctx context.Context, uid string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rfid_cards
		SET total_taps = total_taps + 1, last_used = $2, updated_at = NOW()
		WHERE id = `+currentBinding+`
	`, uid, at)
	return err
}

// List returns bindings for a school, newest first.
func (r *Repository) List(ctx context.Context, schoolID string, limit, offset int) ([]Card, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT card_uid, student_id, school_id, status, assigned_date, last_used, total_taps, notes
		FROM rfid_cards
		WHERE school_id = $1
		ORDER BY assigned_date DESC
		LIMIT $2 OFFSET $3
	`, schoolID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.CardUID, &c.StudentID, &c.SchoolID, &c.Status, &c.AssignedDate, &c.LastUsed, &c.TotalTaps, &c.Notes); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
