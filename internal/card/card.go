package card

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a physical card binding.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
	StatusLost    Status = "lost"
	StatusExpired Status = "expired"
)

// Valid reports whether s is a supported status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBlocked, StatusLost, StatusExpired:
		return true
	default:
		return false
	}
}

// Card binds a physical RFID/NFC UID to a student.
type Card struct {
	CardUID      string     `json:"card_uid"`
	StudentID    string     `json:"student_id"`
	SchoolID     string     `json:"school_id"`
	Status       Status     `json:"status"`
	AssignedDate time.Time  `json:"assigned_date"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	TotalTaps    int        `json:"total_taps"`
	Notes        string     `json:"notes,omitempty"`
}

var (
	ErrDuplicateCard = errors.New("card uid already bound to an active card")
	ErrCardNotFound  = errors.New("card not found")
	ErrBadStatus     = errors.New("unknown card status")
	ErrBadUID        = errors.New("card uid required")
)

// NormalizeUID canonicalizes a reader-supplied UID. Readers report the
// same card with inconsistent casing and stray whitespace.
func NormalizeUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}
