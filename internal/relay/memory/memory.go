// Package memory contains in-memory relay storage for DSN-less runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"famtable/internal/errs"
	"famtable/internal/model"
	"famtable/internal/relay"
)

// Families implements relay.FamilyStore in process memory.
type Families struct {
	mu sync.RWMutex
	m  map[string]relay.FamilyRecord
}

var _ relay.FamilyStore = (*Families)(nil)

// NewFamilies returns an empty family store.
func NewFamilies() *Families {
	return &Families{m: make(map[string]relay.FamilyRecord)}
}

func (s *Families) Get(_ context.Context, familyID string) (*relay.FamilyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[familyID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *Families) Put(_ context.Context, familyID string, blob model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[familyID] = relay.FamilyRecord{
		FamilyID:    familyID,
		Blob:        blob,
		LastUpdated: time.Now(),
	}
	return nil
}

// Invites implements relay.InviteStore in process memory, keyed by family id.
type Invites struct {
	mu sync.RWMutex
	m  map[string]relay.Invite
}

var _ relay.InviteStore = (*Invites)(nil)

// NewInvites returns an empty invite store.
func NewInvites() *Invites {
	return &Invites{m: make(map[string]relay.Invite)}
}

func (s *Invites) GetByCode(_ context.Context, code string, now time.Time) (*relay.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.m {
		if inv.Code == code && inv.ExpiresAt.After(now) {
			out := inv
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *Invites) GetByFamily(_ context.Context, familyID string, now time.Time) (*relay.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.m[familyID]
	if !ok || !inv.ExpiresAt.After(now) {
		return nil, errs.ErrNotFound
	}
	out := inv
	return &out, nil
}

func (s *Invites) Put(_ context.Context, inv relay.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[inv.FamilyID] = inv
	return nil
}

func (s *Invites) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.m {
		if !inv.ExpiresAt.After(now) {
			delete(s.m, id)
			n++
		}
	}
	return n, nil
}
