// Package userstest provides an in-memory users.StaffTx for tests of modules
// that book sales against employees.
package userstest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/users"
)

// Staff is an in-memory users.StaffTx.
type Staff struct {
	mu    sync.Mutex
	users map[string]users.User
}

// NewStaff seeds the store with the given users.
func NewStaff(seed ...users.User) *Staff {
	s := &Staff{users: make(map[string]users.User)}
	for _, u := range seed {
		s.Add(u)
	}
	return s
}

// Active builds an active user with zero totals.
func Active(id, name string) users.User {
	return users.User{ID: id, FullName: name, Role: users.RoleStaff, Active: true, TotalRevenue: decimal.Zero}
}

// Add inserts or replaces a user.
func (s *Staff) Add(u users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Get returns the stored user, zero value when absent.
func (s *Staff) Get(id string) users.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

// LockUser implements users.StaffTx.
func (s *Staff) LockUser(_ context.Context, id string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return &u, nil
}

// SaveUserStats implements users.StaffTx.
func (s *Staff) SaveUserStats(_ context.Context, u *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return users.ErrUserNotFound
	}
	cur.TotalOrders = u.TotalOrders
	cur.TotalRevenue = u.TotalRevenue
	s.users[u.ID] = cur
	return nil
}

// Begin snapshots the store and returns a rollback function.
func (s *Staff) Begin() func() {
	s.mu.Lock()
	snap := make(map[string]users.User, len(s.users))
	for k, v := range s.users {
		snap[k] = v
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.users = snap
		s.mu.Unlock()
	}
}
