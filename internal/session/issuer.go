package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	minDurationMinutes = 5
	maxDurationMinutes = 180
	minRadiusMeters    = 10
	maxRadiusMeters    = 1000
)

// Store is the persistence surface the issuer needs.
type Store interface {
	Insert(ctx context.Context, s Session) error
}

// Issuer opens attendance sessions and encodes them into scannable tokens.
// Opening a session never invalidates prior open sessions; concurrent
// sessions for different classes are expected.
type Issuer struct {
	store Store
	now   func() time.Time
	tz    *time.Location
}

// NewIssuer creates an issuer backed by a store. tz is the school's
// timezone used to bucket sessions onto calendar dates; nil means UTC.
func NewIssuer(store Store, tz *time.Location) *Issuer {
	if tz == nil {
		tz = time.UTC
	}
	return &Issuer{store: store, now: time.Now, tz: tz}
}

// OpenRequest describes a teacher's request to open a session. Location is
// the device fix captured client-side at open time; it is required when a
// geofence radius is requested.
type OpenRequest struct {
	ClassID         string
	SubjectID       string
	TeacherID       string
	DurationMinutes int
	RadiusMeters    float64 // 0 means no geofence
	Latitude        *float64
	Longitude       *float64
}

// Open validates the request, persists the session, and returns it along
// with the token to render as a QR code.
func (i *Issuer) Open(ctx context.Context, req OpenRequest) (*Session, string, error) {
	if req.DurationMinutes < minDurationMinutes || req.DurationMinutes > maxDurationMinutes {
		return nil, "", ErrBadDuration
	}

	var fence *Geofence
	if req.RadiusMeters != 0 {
		if req.RadiusMeters < minRadiusMeters || req.RadiusMeters > maxRadiusMeters {
			return nil, "", ErrBadRadius
		}
		if req.Latitude == nil || req.Longitude == nil {
			return nil, "", ErrLocationUnavailable
		}
		fence = &Geofence{
			Latitude:     *req.Latitude,
			Longitude:    *req.Longitude,
			RadiusMeters: req.RadiusMeters,
		}
	}

	now := i.now().UTC()
	// The calendar date comes from the school's local day, so a session
	// opened before 07:00 local never lands on the previous date.
	local := now.In(i.tz)
	s := Session{
		ID:        uuid.NewString(),
		ClassID:   req.ClassID,
		SubjectID: req.SubjectID,
		TeacherID: req.TeacherID,
		Date:      time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
		StartTime: now,
		EndTime:   now.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Location:  fence,
		CreatedAt: now,
	}
	if err := i.store.Insert(ctx, s); err != nil {
		return nil, "", err
	}

	token, err := EncodeToken(TokenPayload{
		SessionID:  s.ID,
		ClassID:    s.ClassID,
		SubjectID:  s.SubjectID,
		ValidUntil: s.EndTime,
	})
	if err != nil {
		return nil, "", err
	}
	return &s, token, nil
}
