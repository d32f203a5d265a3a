package card

import (
	"context"
	"time"
)

// Store is the persistence surface the registry needs. A UID may have
// retired rows behind its current binding; Get, SetStatus, Delete, and
// RecordTap apply to the current binding only, and Insert reports false
// only when an active binding for the UID already exists.
type Store interface {
	Insert(ctx context.Context, c Card) (bool, error)
	Get(ctx context.Context, uid string) (*Card, error)
	SetStatus(ctx context.Context, uid string, status Status, notes string) (bool, error)
	Delete(ctx context.Context, uid string) (bool, error)
	RecordTap(ctx context.Context, uid string, at time.Time) error
}

// Registry manages the card UID to student bindings. Status transitions
// are admin-driven only; taps never change status.
type Registry struct {
	store Store
}

// NewRegistry creates a registry backed by a store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Register binds a UID to a student in active state. A UID already bound
// to an active card is rejected with ErrDuplicateCard.
func (g *Registry) Register(ctx context.Context, uid, studentID, schoolID, notes string) (*Card, error) {
	uid = NormalizeUID(uid)
	if uid == "" {
		return nil, ErrBadUID
	}
	c := Card{
		CardUID:      uid,
		StudentID:    studentID,
		SchoolID:     schoolID,
		Status:       StatusActive,
		AssignedDate: time.Now().UTC(),
		Notes:        notes,
	}
	inserted, err := g.store.Insert(ctx, c)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrDuplicateCard
	}
	return &c, nil
}

// Lookup returns the binding for a UID or ErrCardNotFound.
func (g *Registry) Lookup(ctx context.Context, uid string) (*Card, error) {
	c, err := g.store.Get(ctx, NormalizeUID(uid))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCardNotFound
	}
	return c, nil
}

// SetStatus moves a card to any status by administrative action.
func (g *Registry) SetStatus(ctx context.Context, uid string, status Status, notes string) error {
	if !status.Valid() {
		return ErrBadStatus
	}
	ok, err := g.store.SetStatus(ctx, NormalizeUID(uid), status, notes)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCardNotFound
	}
	return nil
}

// Unregister removes the binding. The tap log history is retained.
func (g *Registry) Unregister(ctx context.Context, uid string) error {
	ok, err := g.store.Delete(ctx, NormalizeUID(uid))
	if err != nil {
		return err
	}
	if !ok {
		return ErrCardNotFound
	}
	return nil
}

// RecordTap bumps usage counters on an accepted tap.
func (g *Registry) RecordTap(ctx context.Context, uid string, at time.Time) error {
	return g.store.RecordTap(ctx, NormalizeUID(uid), at)
}
