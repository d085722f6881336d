// Package memstore provides an in-memory tenant.Store used in the demo mode
// and in tests. All mutations copy values in and out so callers never share
// state with the store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/internal/tenant"
)

// Store is a map-backed tenant.Store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	profiles map[string]*tenant.BusinessProfile
	byPhone  map[string]string            // phone number -> profile ID
	calls    map[string]*tenant.CallLog   // call SID -> log
}

// Compile-time interface assertion.
var _ tenant.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		profiles: make(map[string]*tenant.BusinessProfile),
		byPhone:  make(map[string]string),
		calls:    make(map[string]*tenant.CallLog),
	}
}

func copyProfile(p *tenant.BusinessProfile) *tenant.BusinessProfile {
	cp := *p
	cp.Services = append([]string(nil), p.Services...)
	return &cp
}

func copyCall(c *tenant.CallLog) *tenant.CallLog {
	cp := *c
	cp.Transcript = append([]tenant.Turn(nil), c.Transcript...)
	return &cp
}

// GetProfile implements tenant.Store.
func (s *Store) GetProfile(_ context.Context, id string) (*tenant.BusinessProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return copyProfile(p), nil
}

// GetProfileByPhone implements tenant.Store.
func (s *Store) GetProfileByPhone(_ context.Context, number string) (*tenant.BusinessProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPhone[number]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return copyProfile(s.profiles[id]), nil
}

// SaveProfile implements tenant.Store.
func (s *Store) SaveProfile(_ context.Context, p *tenant.BusinessProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyProfile(p)
	if old, ok := s.profiles[cp.ID]; ok {
		cp.CreatedAt = old.CreatedAt
		if old.PhoneNumber != cp.PhoneNumber {
			delete(s.byPhone, old.PhoneNumber)
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()

	s.profiles[cp.ID] = cp
	if cp.PhoneNumber != "" {
		s.byPhone[cp.PhoneNumber] = cp.ID
	}
	return nil
}

// AddMinutes implements tenant.Store.
func (s *Store) AddMinutes(_ context.Context, profileID string, minutes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return 0, tenant.ErrNotFound
	}
	p.MinutesUsed += minutes
	p.UpdatedAt = time.Now()
	return p.MinutesUsed, nil
}

// StartCall implements tenant.Store.
func (s *Store) StartCall(_ context.Context, c *tenant.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyCall(c)
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	s.calls[cp.CallSID] = cp
	return nil
}

// AppendTurn implements tenant.Store.
func (s *Store) AppendTurn(_ context.Context, callSID string, t tenant.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callSID]
	if !ok {
		return tenant.ErrNotFound
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	c.Transcript = append(c.Transcript, t)
	return nil
}

// CompleteCall implements tenant.Store.
func (s *Store) CompleteCall(_ context.Context, callSID, status string, durationSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callSID]
	if !ok {
		return tenant.ErrNotFound
	}
	c.Status = status
	c.DurationSeconds = durationSeconds
	c.EndedAt = time.Now()
	return nil
}

// GetCallBySID implements tenant.Store.
func (s *Store) GetCallBySID(_ context.Context, callSID string) (*tenant.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callSID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return copyCall(c), nil
}
