package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"presensi/internal/queue"
)

func TestFirePublishesToOutbox(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := queue.NewInMemory(4)
	trig := NewTrigger(q, nil)

	evt := Event{
		Type: EventLate, StudentID: "s-1", SchoolID: "sch-1",
		Timestamp: time.Date(2026, 3, 9, 1, 5, 0, 0, time.UTC), LateMinutes: 35,
	}
	trig.Fire(ctx, evt)

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "notify" {
			t.Fatalf("message type = %q, want notify", msg.Type)
		}
		var got Event
		if err := json.Unmarshal(msg.Body, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != EventLate || got.LateMinutes != 35 || got.StudentID != "s-1" {
			t.Fatalf("event = %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("no message published")
	}
}

func TestFireSurvivesFullOutbox(t *testing.T) {
	// Zero-capacity queue with no consumer: publish blocks until the
	// context gives up, and Fire must still return instead of erroring out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	trig := NewTrigger(queue.NewInMemory(0), nil)
	trig.Fire(ctx, Event{Type: EventCheckIn, StudentID: "s-1"})
}
