package verify

import (
	"context"
	"sync"
	"testing"
	"time"

	"presensi/internal/ledger"
	"presensi/internal/notify"
	"presensi/internal/session"
)

type fakeSessions struct {
	byID map[string]*session.Session
}

func (f *fakeSessions) Get(_ context.Context, id string) (*session.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

type fakeCheckins struct {
	mu      sync.Mutex
	rows    map[string]CheckIn // keyed session|student
	ledger  []ledger.Status
	failTxn error
}

func (f *fakeCheckins) RecordCheckIn(_ context.Context, c CheckIn, _, _ string, ls ledger.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTxn != nil {
		return false, f.failTxn
	}
	key := c.SessionID + "|" + c.StudentID
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	f.rows[key] = c
	f.ledger = append(f.ledger, ls)
	return true, nil
}

func newFakeCheckins() *fakeCheckins {
	return &fakeCheckins{rows: make(map[string]CheckIn)}
}

var sessionStart = time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC)

func testSession(fence *session.Geofence) *session.Session {
	return &session.Session{
		ID:        "sess-1",
		ClassID:   "7A",
		SubjectID: "MATH",
		TeacherID: "t-1",
		Date:      sessionStart.Truncate(24 * time.Hour),
		StartTime: sessionStart,
		EndTime:   sessionStart.Add(45 * time.Minute),
		Location:  fence,
	}
}

func issuedToken(t *testing.T, s *session.Session) string {
	t.Helper()
	tok, err := session.EncodeToken(session.TokenPayload{
		SessionID: s.ID, ClassID: s.ClassID, SubjectID: s.SubjectID, ValidUntil: s.EndTime,
	})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	return tok
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *capturingNotifier) Fire(_ context.Context, evt notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func newGate(s *session.Session) (*Service, *fakeCheckins) {
	checkins := newFakeCheckins()
	sessions := &fakeSessions{byID: map[string]*session.Session{}}
	if s != nil {
		sessions.byID[s.ID] = s
	}
	return NewService(sessions, checkins, nil), checkins
}

func TestVerifyOnTimeThenDuplicate(t *testing.T) {
	s := testSession(nil)
	gate, checkins := newGate(s)
	tok := issuedToken(t, s)
	ctx := context.Background()

	// Scenario: scan at 07:09 is on-time.
	res, err := gate.Verify(ctx, tok, "student-1", sessionStart.Add(9*time.Minute), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Accepted || res.Status != StatusOnTime {
		t.Fatalf("result = %+v, want accepted on-time", res)
	}
	if len(checkins.ledger) != 1 || checkins.ledger[0] != ledger.StatusHadir {
		t.Fatalf("ledger = %v, want one Hadir entry", checkins.ledger)
	}

	// Second scan by the same student at 07:15.
	res, err = gate.Verify(ctx, tok, "student-1", sessionStart.Add(15*time.Minute), nil)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonAlreadyCheckedIn {
		t.Fatalf("result = %+v, want AlreadyCheckedIn", res)
	}
	if len(checkins.ledger) != 1 {
		t.Fatalf("duplicate wrote a second ledger entry")
	}
}

func TestVerifyClassificationBoundaries(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want Status
	}{
		{"one second early", sessionStart.Add(-time.Second), StatusEarly},
		{"at start", sessionStart, StatusOnTime},
		{"exactly grace", sessionStart.Add(GracePeriod), StatusOnTime},
		{"one second past grace", sessionStart.Add(GracePeriod + time.Second), StatusLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSession(nil)
			gate, checkins := newGate(s)
			res, err := gate.Verify(context.Background(), issuedToken(t, s), "student-1", tc.at, nil)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if !res.Accepted || res.Status != tc.want {
				t.Fatalf("result = %+v, want accepted %s", res, tc.want)
			}
			wantLedger := ledger.StatusHadir
			if tc.want == StatusLate {
				wantLedger = ledger.StatusTerlambat
			}
			if checkins.ledger[0] != wantLedger {
				t.Fatalf("ledger = %v, want %v", checkins.ledger[0], wantLedger)
			}
		})
	}
}

func TestVerifyLateScanFiresNotification(t *testing.T) {
	s := testSession(nil)
	sessions := &fakeSessions{byID: map[string]*session.Session{s.ID: s}}
	n := &capturingNotifier{}
	gate := NewService(sessions, newFakeCheckins(), n)
	ctx := context.Background()

	// 25 minutes after start is past the grace period.
	res, err := gate.Verify(ctx, issuedToken(t, s), "student-1", sessionStart.Add(25*time.Minute), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Accepted || res.Status != StatusLate {
		t.Fatalf("result = %+v, want accepted late", res)
	}
	if len(n.events) != 1 {
		t.Fatalf("%d events fired, want 1", len(n.events))
	}
	evt := n.events[0]
	if evt.Type != notify.EventLate || evt.ClassID != s.ClassID || evt.LateMinutes != 25 {
		t.Fatalf("event = %+v, want late/25 for class %s", evt, s.ClassID)
	}

	// An on-time scan stays quiet.
	res, err = gate.Verify(ctx, issuedToken(t, s), "student-2", sessionStart.Add(5*time.Minute), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Accepted || len(n.events) != 1 {
		t.Fatalf("on-time scan fired an event: %+v", n.events)
	}
}

func TestVerifyInvalidToken(t *testing.T) {
	gate, _ := newGate(nil)
	res, err := gate.Verify(context.Background(), "garbage!!", "student-1", sessionStart, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonInvalidToken {
		t.Fatalf("result = %+v, want InvalidToken", res)
	}
}

func TestVerifyUnknownSession(t *testing.T) {
	s := testSession(nil)
	gate, _ := newGate(nil) // store has no sessions
	res, err := gate.Verify(context.Background(), issuedToken(t, s), "student-1", sessionStart, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Reason != ReasonInvalidToken {
		t.Fatalf("result = %+v, want InvalidToken", res)
	}
}

func TestVerifyExpiredAgainstServerState(t *testing.T) {
	// The token claims a generous expiry but the stored session has ended;
	// server state wins.
	s := testSession(nil)
	gate, _ := newGate(s)
	tok, err := session.EncodeToken(session.TokenPayload{
		SessionID: s.ID, ClassID: s.ClassID, SubjectID: s.SubjectID,
		ValidUntil: s.EndTime.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res, err := gate.Verify(context.Background(), tok, "student-1", s.EndTime.Add(time.Minute), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonExpired {
		t.Fatalf("result = %+v, want Expired", res)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	s := testSession(nil)
	gate, _ := newGate(s)
	res, err := gate.Verify(context.Background(), issuedToken(t, s), "student-1", s.EndTime.Add(time.Second), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Reason != ReasonExpired {
		t.Fatalf("result = %+v, want Expired", res)
	}
}

func TestVerifyGeofence(t *testing.T) {
	fence := &session.Geofence{Latitude: -6.2000, Longitude: 106.8166, RadiusMeters: 100}
	s := testSession(fence)
	gate, _ := newGate(s)
	tok := issuedToken(t, s)
	ctx := context.Background()
	at := sessionStart.Add(5 * time.Minute)

	// ~150 m east of center: rejected with the measured distance.
	far := &Location{Latitude: -6.2000, Longitude: 106.81796}
	res, err := gate.Verify(ctx, tok, "student-1", at, far)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonOutOfRange {
		t.Fatalf("result = %+v, want OutOfRange", res)
	}
	if res.DistanceMeters < 140 || res.DistanceMeters > 170 {
		t.Fatalf("reported distance = %f, want ~150", res.DistanceMeters)
	}
	if res.AllowedMeters != 100 {
		t.Fatalf("allowed = %f, want 100", res.AllowedMeters)
	}

	// Inside the fence: accepted.
	near := &Location{Latitude: -6.2001, Longitude: 106.8166}
	res, err = gate.Verify(ctx, tok, "student-2", at, near)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("result = %+v, want accepted", res)
	}

	// No fix at all: rejected, not an error.
	res, err = gate.Verify(ctx, tok, "student-3", at, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonLocationUnavailable {
		t.Fatalf("result = %+v, want LocationUnavailable", res)
	}
}

func TestVerifyGeofenceBoundary(t *testing.T) {
	fence := &session.Geofence{Latitude: -6.2000, Longitude: 106.8166, RadiusMeters: 100}
	s := testSession(fence)
	gate, _ := newGate(s)
	tok := issuedToken(t, s)
	at := sessionStart.Add(time.Minute)

	// ~99.5 m north of center is inside a 100 m radius.
	inside := &Location{Latitude: -6.2000 + 99.5/111194.9, Longitude: 106.8166}
	res, err := gate.Verify(context.Background(), tok, "student-1", at, inside)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("location just inside radius rejected: %+v", res)
	}

	// ~101 m north is outside.
	outside := &Location{Latitude: -6.2000 + 101.0/111194.9, Longitude: 106.8166}
	res, err = gate.Verify(context.Background(), tok, "student-2", at, outside)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Accepted || res.Reason != ReasonOutOfRange {
		t.Fatalf("location past radius accepted: %+v", res)
	}
}

func TestVerifyConcurrentDuplicate(t *testing.T) {
	s := testSession(nil)
	gate, checkins := newGate(s)
	tok := issuedToken(t, s)
	at := sessionStart.Add(2 * time.Minute)

	const n = 16
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := gate.Verify(context.Background(), tok, "student-1", at, nil)
			if err != nil {
				t.Errorf("verify: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		if res.Accepted {
			accepted++
		} else if res.Reason != ReasonAlreadyCheckedIn {
			t.Errorf("loser saw %q, want AlreadyCheckedIn", res.Reason)
		}
	}
	if accepted != 1 {
		t.Fatalf("%d scans accepted, want exactly 1", accepted)
	}
	if len(checkins.rows) != 1 {
		t.Fatalf("%d rows written, want 1", len(checkins.rows))
	}
}
