// Package gate tracks a student's physical presence at the school
// entrance for the day, independent of class sessions. One check-in and
// at most one check-out per student per calendar date.
package gate

import (
	"errors"
	"time"
)

// Method says how a gate event was produced.
type Method string

const (
	MethodQR     Method = "qr"
	MethodRFID   Method = "rfid"
	MethodManual Method = "manual"
)

// PresenceStatus is the daily record's state.
type PresenceStatus string

const (
	StatusInsideSchool  PresenceStatus = "inside_school"
	StatusOutsideSchool PresenceStatus = "outside_school"
)

// TapType is the direction inferred for a card tap.
type TapType string

const (
	TapCheckIn  TapType = "check_in"
	TapCheckOut TapType = "check_out"
)

// Record is the single row per (student, date) at the gate. Dates are
// calendar dates in the school's timezone, formatted YYYY-MM-DD, so a
// late-evening UTC timestamp can never land on the wrong day.
type Record struct {
	ID             string         `json:"id"`
	StudentID      string         `json:"student_id"`
	SchoolID       string         `json:"school_id"`
	Date           string         `json:"date"`
	CheckInTime    time.Time      `json:"check_in_time"`
	CheckInMethod  Method         `json:"check_in_method"`
	CheckOutTime   *time.Time     `json:"check_out_time,omitempty"`
	CheckOutMethod *Method        `json:"check_out_method,omitempty"`
	Status         PresenceStatus `json:"status"`
	LateArrival    bool           `json:"late_arrival"`
	LateMinutes    int            `json:"late_minutes"`
	Notes          string         `json:"notes,omitempty"`
}

// TapLog is the append-only audit row for every card presentation,
// accepted or not. Never mutated, never deleted.
type TapLog struct {
	CardUID       string    `json:"card_uid"`
	StudentID     string    `json:"student_id,omitempty"`
	TapTime       time.Time `json:"tap_time"`
	TapType       TapType   `json:"tap_type"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	GateDeviceID  string    `json:"gate_device_id"`
}

var (
	ErrAlreadyCheckedInToday = errors.New("student already checked in today")
	ErrNotCheckedIn          = errors.New("no open gate record for student")
	ErrAlreadyCheckedOut     = errors.New("gate record already checked out")
	ErrCardNotActive         = errors.New("card is not active")
)
