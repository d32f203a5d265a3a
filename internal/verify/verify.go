// Package verify implements the shared decision procedure that turns a
// presented credential into an attendance record: decode, expiry check,
// geofence check, atomic duplicate-safe insert, early/on-time/late
// classification.
package verify

import (
	"context"
	"time"

	"presensi/internal/geo"
	"presensi/internal/ledger"
	"presensi/internal/notify"
	"presensi/internal/session"
)

// GracePeriod is the tolerance after session start during which a
// check-in still counts as on-time.
const GracePeriod = 10 * time.Minute

// Status classifies an accepted check-in relative to session start.
type Status string

const (
	StatusEarly  Status = "early"
	StatusOnTime Status = "on-time"
	StatusLate   Status = "late"
)

// Reason identifies why a scan was rejected. Every rejection is terminal
// for that attempt; AlreadyCheckedIn is the one expected in normal use.
type Reason string

const (
	ReasonInvalidToken        Reason = "invalid_token"
	ReasonExpired             Reason = "expired"
	ReasonOutOfRange          Reason = "out_of_range"
	ReasonAlreadyCheckedIn    Reason = "already_checked_in"
	ReasonLocationUnavailable Reason = "location_unavailable"
)

// Location is a client-reported GPS fix.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CheckIn is one student's accepted scan against a session. Written once,
// never updated or deleted here.
type CheckIn struct {
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
	Location  *Location `json:"location,omitempty"`
	Status    Status    `json:"status"`
}

// Result is the typed outcome of one scan. When Accepted is false, Reason
// says why; DistanceMeters and AllowedMeters are populated for
// out-of-range rejections so the caller can show how far off the student was.
type Result struct {
	Accepted       bool     `json:"accepted"`
	Status         Status   `json:"status,omitempty"`
	Reason         Reason   `json:"reason,omitempty"`
	DistanceMeters float64  `json:"distance_meters,omitempty"`
	AllowedMeters  float64  `json:"allowed_meters,omitempty"`
	CheckIn        *CheckIn `json:"check_in,omitempty"`
}

// SessionStore loads authoritative session state. Get returns nil when
// the id is unknown.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// CheckInStore commits an accepted scan. The insert and the ledger mirror
// must happen in one transaction, and the insert must rely on the
// (session_id, student_id) uniqueness constraint: inserted == false means
// another scan won the race.
type CheckInStore interface {
	RecordCheckIn(ctx context.Context, c CheckIn, classID, subjectID string, ls ledger.Status) (bool, error)
}

// Notifier fires best-effort attendance notifications. Failures must
// never surface into the verification path.
type Notifier interface {
	Fire(ctx context.Context, evt notify.Event)
}

// Service is the verification gate.
type Service struct {
	sessions SessionStore
	checkins CheckInStore
	notifier Notifier
}

// NewService creates a gate over the given stores. notifier may be nil.
func NewService(sessions SessionStore, checkins CheckInStore, notifier Notifier) *Service {
	return &Service{sessions: sessions, checkins: checkins, notifier: notifier}
}

// Classify buckets a presentation time against session start. Exactly at
// start + grace is still on-time.
func Classify(presentedAt, sessionStart time.Time) Status {
	switch {
	case presentedAt.Before(sessionStart):
		return StatusEarly
	case presentedAt.Sub(sessionStart) <= GracePeriod:
		return StatusOnTime
	default:
		return StatusLate
	}
}

// Verify runs the ordered checks against a scanned token and either
// commits a check-in or returns the first rejection. The returned error is
// only non-nil for persistence failures; semantic rejections come back in
// the Result and are final for this attempt. No state is written on any
// rejection path.
func (s *Service) Verify(ctx context.Context, token, studentID string, at time.Time, loc *Location) (Result, error) {
	payload, err := session.DecodeToken(token)
	if err != nil {
		return Result{Reason: ReasonInvalidToken}, nil
	}

	sess, err := s.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		return Result{}, err
	}
	if sess == nil {
		// Token points at nothing we issued.
		return Result{Reason: ReasonInvalidToken}, nil
	}

	// The token's embedded expiry is client-supplied; the stored session
	// is authoritative. Check both so a doctored token can only shorten
	// its own life.
	if at.After(payload.ValidUntil) || sess.Expired(at) {
		return Result{Reason: ReasonExpired}, nil
	}

	if sess.Location != nil {
		if loc == nil {
			return Result{Reason: ReasonLocationUnavailable}, nil
		}
		d := geo.Distance(loc.Latitude, loc.Longitude, sess.Location.Latitude, sess.Location.Longitude)
		if d > sess.Location.RadiusMeters {
			return Result{
				Reason:         ReasonOutOfRange,
				DistanceMeters: d,
				AllowedMeters:  sess.Location.RadiusMeters,
			}, nil
		}
	}

	status := Classify(at, sess.StartTime)
	ls := ledger.StatusHadir
	if status == StatusLate {
		ls = ledger.StatusTerlambat
	}

	c := CheckIn{
		SessionID: sess.ID,
		StudentID: studentID,
		Timestamp: at,
		Location:  loc,
		Status:    status,
	}
	inserted, err := s.checkins.RecordCheckIn(ctx, c, sess.ClassID, sess.SubjectID, ls)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		return Result{Reason: ReasonAlreadyCheckedIn}, nil
	}

	if status == StatusLate && s.notifier != nil {
		s.notifier.Fire(ctx, notify.Event{
			Type:        notify.EventLate,
			StudentID:   studentID,
			ClassID:     sess.ClassID,
			Timestamp:   at,
			LateMinutes: int(at.Sub(sess.StartTime) / time.Minute),
		})
	}
	return Result{Accepted: true, Status: status, CheckIn: &c}, nil
}
