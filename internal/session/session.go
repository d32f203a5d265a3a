package session

import (
	"errors"
	"time"
)

// Geofence is a circular area a check-in's reported location must fall in.
type Geofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Session is one teacher-opened attendance window for a class+subject.
// Read-only after creation; it expires implicitly once now passes EndTime
// and is only ever superseded by a new session, never mutated.
type Session struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	SubjectID string    `json:"subject_id"`
	TeacherID string    `json:"teacher_id"`
	Date      time.Time `json:"date"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Location  *Geofence `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the window has closed as of at.
func (s *Session) Expired(at time.Time) bool {
	return at.After(s.EndTime)
}

var (
	ErrBadDuration         = errors.New("duration must be between 5 and 180 minutes")
	ErrBadRadius           = errors.New("geofence radius must be between 10 and 1000 meters")
	ErrLocationUnavailable = errors.New("location unavailable for geofenced session")
)
