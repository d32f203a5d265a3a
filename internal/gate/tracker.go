package gate

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"presensi/internal/card"
	"presensi/internal/notify"
)

// Store is the persistence surface the tracker needs. InsertRecord must
// lean on the UNIQUE(student_id, date) constraint and report a conflict
// as inserted == false; CompleteCheckOut must be a conditional update
// that only touches rows still in inside_school state.
type Store interface {
	InsertRecord(ctx context.Context, rec Record) (bool, error)
	GetRecord(ctx context.Context, id string) (*Record, error)
	OpenRecordToday(ctx context.Context, studentID, date string) (*Record, error)
	CompleteCheckOut(ctx context.Context, id string, method Method, at time.Time) (bool, error)
	SchoolStartTime(ctx context.Context, schoolID string) (string, error)
	AppendTapLog(ctx context.Context, entry TapLog) error
}

// CardRegistry is the slice of the card registry taps need.
type CardRegistry interface {
	Lookup(ctx context.Context, uid string) (*card.Card, error)
	RecordTap(ctx context.Context, uid string, at time.Time) error
}

// Notifier fires best-effort attendance notifications. Implementations
// must never return delivery failures into the attendance path.
type Notifier interface {
	Fire(ctx context.Context, evt notify.Event)
}

// Tracker is the gate presence component.
type Tracker struct {
	store    Store
	cards    CardRegistry
	notifier Notifier
	tz       *time.Location
}

// NewTracker creates a tracker. tz is the school's timezone used for
// calendar-date bucketing; nil means UTC.
func NewTracker(store Store, cards CardRegistry, notifier Notifier, tz *time.Location) *Tracker {
	if tz == nil {
		tz = time.UTC
	}
	return &Tracker{store: store, cards: cards, notifier: notifier, tz: tz}
}

// DateOf returns the calendar date for a timestamp in the school timezone.
func (t *Tracker) DateOf(at time.Time) string {
	return at.In(t.tz).Format("2006-01-02")
}

// lateness compares the arrival against the school's configured start
// time for that date and returns whole minutes late.
func (t *Tracker) lateness(ctx context.Context, schoolID string, at time.Time) (bool, int, error) {
	startStr, err := t.store.SchoolStartTime(ctx, schoolID)
	if err != nil {
		return false, 0, err
	}
	hm, err := time.Parse("15:04", startStr)
	if err != nil {
		return false, 0, err
	}
	local := at.In(t.tz)
	start := time.Date(local.Year(), local.Month(), local.Day(), hm.Hour(), hm.Minute(), 0, 0, t.tz)
	if !local.After(start) {
		return false, 0, nil
	}
	return true, int(local.Sub(start) / time.Minute), nil
}

// CheckIn records the student's first gate entry of the day. A second
// attempt on the same date is rejected with ErrAlreadyCheckedInToday,
// never overwritten.
func (t *Tracker) CheckIn(ctx context.Context, studentID, schoolID string, method Method, at time.Time) (*Record, error) {
	late, lateMin, err := t.lateness(ctx, schoolID, at)
	if err != nil {
		return nil, err
	}
	rec := Record{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		SchoolID:      schoolID,
		Date:          t.DateOf(at),
		CheckInTime:   at,
		CheckInMethod: method,
		Status:        StatusInsideSchool,
		LateArrival:   late,
		LateMinutes:   lateMin,
	}
	inserted, err := t.store.InsertRecord(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrAlreadyCheckedInToday
	}

	if t.notifier != nil {
		t.notifier.Fire(ctx, notify.Event{
			Type: notify.EventCheckIn, StudentID: studentID, SchoolID: schoolID, Timestamp: at,
		})
		if late {
			t.notifier.Fire(ctx, notify.Event{
				Type: notify.EventLate, StudentID: studentID, SchoolID: schoolID,
				Timestamp: at, LateMinutes: lateMin,
			})
		}
	}
	return &rec, nil
}

// CheckOut closes the day's record. Requires the record to still be in
// inside_school state; after this the record is immutable for the date.
func (t *Tracker) CheckOut(ctx context.Context, recordID string, method Method, at time.Time) (*Record, error) {
	ok, err := t.store.CompleteCheckOut(ctx, recordID, method, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec, err := t.store.GetRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrNotCheckedIn
		}
		return nil, ErrAlreadyCheckedOut
	}
	rec, err := t.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if t.notifier != nil {
		t.notifier.Fire(ctx, notify.Event{
			Type: notify.EventCheckOut, StudentID: rec.StudentID, SchoolID: rec.SchoolID, Timestamp: at,
		})
	}
	return rec, nil
}

// TapResult is what a gate reader gets back for an accepted tap.
type TapResult struct {
	StudentID string  `json:"student_id"`
	TapType   TapType `json:"tap_type"`
	Record    *Record `json:"record"`
}

// Tap handles a card presentation. Direction is inferred from state: no
// open record today means check-in, an open one means check-out, and a
// closed one means the day's single in/out cycle is spent. Every
// presentation is appended to the tap log, rejected ones included.
func (t *Tracker) Tap(ctx context.Context, cardUID, deviceID string, at time.Time) (*TapResult, error) {
	uid := card.NormalizeUID(cardUID)

	c, err := t.cards.Lookup(ctx, uid)
	if err != nil {
		if errors.Is(err, card.ErrCardNotFound) {
			t.appendTapLog(ctx, TapLog{
				CardUID: uid, TapTime: at, TapType: TapCheckIn,
				Success: false, FailureReason: "card_not_found", GateDeviceID: deviceID,
			})
			return nil, err
		}
		return nil, err
	}
	if c.Status != card.StatusActive {
		t.appendTapLog(ctx, TapLog{
			CardUID: uid, StudentID: c.StudentID, TapTime: at, TapType: TapCheckIn,
			Success: false, FailureReason: "card_not_active", GateDeviceID: deviceID,
		})
		return nil, ErrCardNotActive
	}

	open, err := t.store.OpenRecordToday(ctx, c.StudentID, t.DateOf(at))
	if err != nil {
		return nil, err
	}

	var (
		tapType TapType
		rec     *Record
		tapErr  error
	)
	if open == nil {
		tapType = TapCheckIn
		rec, tapErr = t.CheckIn(ctx, c.StudentID, c.SchoolID, MethodRFID, at)
	} else {
		tapType = TapCheckOut
		rec, tapErr = t.CheckOut(ctx, open.ID, MethodRFID, at)
	}

	if tapErr != nil {
		t.appendTapLog(ctx, TapLog{
			CardUID: uid, StudentID: c.StudentID, TapTime: at, TapType: tapType,
			Success: false, FailureReason: failureReason(tapErr), GateDeviceID: deviceID,
		})
		return nil, tapErr
	}

	if err := t.cards.RecordTap(ctx, uid, at); err != nil {
		log.Printf("card usage update failed for %s: %v", uid, err)
	}
	t.appendTapLog(ctx, TapLog{
		CardUID: uid, StudentID: c.StudentID, TapTime: at, TapType: tapType,
		Success: true, GateDeviceID: deviceID,
	})
	return &TapResult{StudentID: c.StudentID, TapType: tapType, Record: rec}, nil
}

// appendTapLog writes the audit row. An audit write failure is logged and
// swallowed so it can never replace the caller's real outcome.
func (t *Tracker) appendTapLog(ctx context.Context, entry TapLog) {
	if err := t.store.AppendTapLog(ctx, entry); err != nil {
		log.Printf("tap log append failed for %s: %v", entry.CardUID, err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyCheckedInToday):
		return "already_checked_in_today"
	case errors.Is(err, ErrNotCheckedIn):
		return "not_checked_in"
	case errors.Is(err, ErrAlreadyCheckedOut):
		return "already_checked_out"
	case errors.Is(err, ErrCardNotActive):
		return "card_not_active"
	case errors.Is(err, card.ErrCardNotFound):
		return "card_not_found"
	default:
		return "persistence_failure"
	}
}
