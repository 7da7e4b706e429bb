package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

// Store keeps users and records in process memory. Deleting a user drops its
// records, matching the SQL backends' cascade.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	users   map[string]core.User
	records []core.Record
}

var _ storage.Repository = (*Store)(nil)

// New returns a store preloaded with the given users.
func New(seed ...core.User) *Store {
	s := &Store{users: map[string]core.User{}}
	for _, u := range seed {
		_, _ = s.CreateUser(context.Background(), u)
	}
	return s
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ExternalID]; ok {
		return core.User{}, fmt.Errorf("insert user %s: %w", u.ExternalID, storage.ErrAlreadyExists)
	}
	s.nextID++
	u.ID = s.nextID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	s.users[u.ExternalID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, externalID string, patch core.UserPatch) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[externalID]
	if !ok {
		return core.User{}, fmt.Errorf("update user %s: %w", externalID, storage.ErrNotFound)
	}
	u = patch.Apply(u, time.Now())
	s.users[externalID] = u
	return u, nil
}

func (s *Store) DeleteUser(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[externalID]; !ok {
		return fmt.Errorf("delete user %s: %w", externalID, storage.ErrNotFound)
	}
	delete(s.users, externalID)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.UserID() != externalID {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

func (s *Store) GetUser(_ context.Context, externalID string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[externalID]
	if !ok {
		return core.User{}, fmt.Errorf("get user %s: %w", externalID, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateRecord(_ context.Context, r core.Record) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[r.UserID()]; !ok {
		return core.Record{}, fmt.Errorf("insert record: owner %s %w", r.UserID(), storage.ErrNotFound)
	}
	for _, existing := range s.records {
		if existing.ID() == r.ID() {
			return core.Record{}, fmt.Errorf("insert record %s: %w", r.ID(), storage.ErrAlreadyExists)
		}
	}
	s.records = append(s.records, r)
	return r, nil
}

func (s *Store) GetRecord(_ context.Context, id string) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID() == id {
			return r, nil
		}
	}
	return core.Record{}, fmt.Errorf("get record %s: %w", id, storage.ErrNotFound)
}

func (s *Store) UserWithRecords(_ context.Context, externalID string) (core.UserWithRecords, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[externalID]
	if !ok {
		return core.UserWithRecords{}, fmt.Errorf("user with records %s: %w", externalID, storage.ErrNotFound)
	}
	out := core.UserWithRecords{User: u, Records: []core.Record{}}
	for _, r := range s.records {
		if r.UserID() == externalID {
			out.Records = append(out.Records, r)
		}
	}
	return out, nil
}

func (s *Store) RecentRecords(_ context.Context, externalID string, since time.Time) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Record{}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.UserID() == externalID && !r.Date().Before(since) {
			out = append(out, r)
		}
	}
	// newest first; later inserts win ties
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date().After(out[j].Date()) })
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
