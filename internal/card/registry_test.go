package card

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeStore models the real table shape: one row per binding, retired
// rows kept behind the current one, mutations scoped to the newest row
// for the UID.
type fakeStore struct {
	rows []Card
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

// current returns the index of the newest row for uid, or -1.
func (f *fakeStore) current(uid string) int {
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].CardUID == uid {
			return i
		}
	}
	return -1
}

func (f *fakeStore) Insert(_ context.Context, c Card) (bool, error) {
	for i := range f.rows {
		if f.rows[i].CardUID == c.CardUID && f.rows[i].Status == StatusActive {
			return false, nil
		}
	}
	f.rows = append(f.rows, c)
	return true, nil
}

func (f *fakeStore) Get(_ context.Context, uid string) (*Card, error) {
	i := f.current(uid)
	if i < 0 {
		return nil, nil
	}
	cp := f.rows[i]
	return &cp, nil
}

func (f *fakeStore) SetStatus(_ context.Context, uid string, status Status, notes string) (bool, error) {
	i := f.current(uid)
	if i < 0 {
		return false, nil
	}
	f.rows[i].Status = status
	if notes != "" {
		f.rows[i].Notes = notes
	}
	return true, nil
}

func (f *fakeStore) Delete(_ context.Context, uid string) (bool, error) {
	i := f.current(uid)
	if i < 0 {
		return false, nil
	}
	f.rows = append(f.rows[:i], f.rows[i+1:]...)
	return true, nil
}

func (f *fakeStore) RecordTap(_ context.Context, uid string, at time.Time) error {
	i := f.current(uid)
	if i < 0 {
		return errors.New("no such card")
	}
	f.rows[i].TotalTaps++
	t := at
	f.rows[i].LastUsed = &t
	return nil
}

func TestRegisterNormalizesUID(t *testing.T) {
	reg := NewRegistry(newFakeStore())
	c, err := reg.Register(context.Background(), "  a1b2c3d4 ", "s-1", "sch-1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if c.CardUID != "A1B2C3D4" {
		t.Fatalf("uid = %q, want A1B2C3D4", c.CardUID)
	}
	if c.Status != StatusActive {
		t.Fatalf("status = %q, want active", c.Status)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry(newFakeStore())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "A1B2C3D4", "s-1", "sch-1", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := reg.Register(ctx, "a1b2c3d4", "s-2", "sch-1", "")
	if !errors.Is(err, ErrDuplicateCard) {
		t.Fatalf("second register err = %v, want ErrDuplicateCard", err)
	}
}

func TestRegisterEmptyUID(t *testing.T) {
	reg := NewRegistry(newFakeStore())
	if _, err := reg.Register(context.Background(), "   ", "s-1", "sch-1", ""); !errors.Is(err, ErrBadUID) {
		t.Fatalf("err = %v, want ErrBadUID", err)
	}
}

func TestSetStatusAnyToAny(t *testing.T) {
	reg := NewRegistry(newFakeStore())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "A1B2C3D4", "s-1", "sch-1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, s := range []Status{StatusBlocked, StatusLost, StatusExpired, StatusActive} {
		if err := reg.SetStatus(ctx, "A1B2C3D4", s, "admin change"); err != nil {
			t.Fatalf("set status %s: %v", s, err)
		}
		c, err := reg.Lookup(ctx, "A1B2C3D4")
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if c.Status != s {
			t.Fatalf("status = %q, want %q", c.Status, s)
		}
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	reg := NewRegistry(newFakeStore())
	if err := reg.SetStatus(context.Background(), "A1B2C3D4", Status("stolen"), ""); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("err = %v, want ErrBadStatus", err)
	}
}

func TestRebindLeavesHistoryUntouched(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store)
	ctx := context.Background()

	// s-1 loses the card, the UID is reissued to s-2.
	if _, err := reg.Register(ctx, "A1B2C3D4", "s-1", "sch-1", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.SetStatus(ctx, "A1B2C3D4", StatusLost, "reported lost"); err != nil {
		t.Fatalf("set lost: %v", err)
	}
	if _, err := reg.Register(ctx, "A1B2C3D4", "s-2", "sch-1", ""); err != nil {
		t.Fatalf("re-register after lost: %v", err)
	}
	if len(store.rows) != 2 {
		t.Fatalf("store has %d rows, want current + retired", len(store.rows))
	}

	// Blocking the current binding must not rewrite the retired row.
	if err := reg.SetStatus(ctx, "A1B2C3D4", StatusBlocked, ""); err != nil {
		t.Fatalf("block: %v", err)
	}
	if store.rows[0].Status != StatusLost {
		t.Fatalf("retired row status = %q, want lost", store.rows[0].Status)
	}

	// Reactivating must succeed: only the current binding goes active.
	if err := reg.SetStatus(ctx, "A1B2C3D4", StatusActive, ""); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	active := 0
	for _, r := range store.rows {
		if r.Status == StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("%d active rows, want 1", active)
	}

	// Taps count against the current binding only.
	if err := reg.RecordTap(ctx, "A1B2C3D4", time.Now()); err != nil {
		t.Fatalf("record tap: %v", err)
	}
	if store.rows[0].TotalTaps != 0 || store.rows[1].TotalTaps != 1 {
		t.Fatalf("taps = %d/%d, want 0/1", store.rows[0].TotalTaps, store.rows[1].TotalTaps)
	}

	// Unregister drops the current binding and keeps the history row.
	if err := reg.Unregister(ctx, "A1B2C3D4"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if len(store.rows) != 1 || store.rows[0].StudentID != "s-1" {
		t.Fatalf("rows after unregister = %+v, want only s-1 history", store.rows)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	reg := NewRegistry(newFakeStore())
	if err := reg.Unregister(context.Background(), "DEADBEEF"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("err = %v, want ErrCardNotFound", err)
	}
}
