// Package notify emits attendance notification requests. Delivery is an
// external collaborator's job; everything here is fire-and-forget so a
// messaging outage can never block or roll back an attendance write.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"presensi/internal/queue"
)

// EventType is the notification taxonomy of the attendance core.
type EventType string

const (
	EventCheckIn  EventType = "check_in"
	EventCheckOut EventType = "check_out"
	EventLate     EventType = "late"
)

// Event is one notification request. SchoolID is set for gate events,
// ClassID for session scan events.
type Event struct {
	Type        EventType `json:"type"`
	StudentID   string    `json:"student_id"`
	SchoolID    string    `json:"school_id,omitempty"`
	ClassID     string    `json:"class_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	LateMinutes int       `json:"late_minutes,omitempty"`
}

// EventsChannel is the pub/sub channel dashboards subscribe to for live
// refresh. The subscription is read-only; nothing consumes it to drive
// state transitions.
const EventsChannel = "presensi:events"

// Trigger publishes events to the dispatch outbox and mirrors them on the
// live channel. Both writes are best-effort.
type Trigger struct {
	q   queue.Queue
	pub *redis.Client
}

// NewTrigger creates a trigger. pub may be nil when live events are not
// wanted (tests, worker-less deployments).
func NewTrigger(q queue.Queue, pub *redis.Client) *Trigger {
	return &Trigger{q: q, pub: pub}
}

// Fire enqueues the event for the dispatch worker and mirrors it to the
// live channel. Failures are logged and dropped.
func (t *Trigger) Fire(ctx context.Context, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("notify: marshal %s event failed: %v", evt.Type, err)
		return
	}
	if t.q != nil {
		if err := t.q.Publish(ctx, queue.Message{Type: "notify", Body: body}); err != nil {
			log.Printf("notify: outbox publish failed: %v", err)
		}
	}
	if t.pub != nil {
		if err := t.pub.Publish(ctx, EventsChannel, body).Err(); err != nil {
			log.Printf("notify: live event publish failed: %v", err)
		}
	}
}
