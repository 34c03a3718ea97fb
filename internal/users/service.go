package users

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateUser registers an employee under the next NV code.
func (s *Service) CreateUser(ctx context.Context, input CreateInput) (User, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	if err := shared.Validate(input); err != nil {
		return User{}, err
	}
	var created User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkUnique(ctx, tx, "", input.FullName, input.Phone, input.Email); err != nil {
			return err
		}
		id, err := tx.NextCode(ctx, shared.PrefixEmployee)
		if err != nil {
			return err
		}
		created = User{
			ID:           id,
			FullName:     input.FullName,
			Role:         input.Role,
			Phone:        input.Phone,
			Email:        input.Email,
			Address:      input.Address,
			ShiftWork:    input.ShiftWork,
			Active:       true,
			TotalRevenue: decimal.Zero,
		}
		return tx.InsertUser(ctx, created)
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, "user:create", created.ID, map[string]any{"full_name": created.FullName})
	return created, nil
}

// UpdateUser applies the provided fields.
func (s *Service) UpdateUser(ctx context.Context, id string, input UpdateInput) (User, error) {
	if err := shared.Validate(input); err != nil {
		return User{}, err
	}
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.LockUser(ctx, id)
		if err != nil {
			return err
		}
		if input.FullName != nil {
			u.FullName = strings.TrimSpace(*input.FullName)
		}
		if input.Role != nil {
			u.Role = *input.Role
		}
		if input.Phone != nil {
			u.Phone = *input.Phone
		}
		if input.Email != nil {
			u.Email = *input.Email
		}
		if input.Address != nil {
			u.Address = *input.Address
		}
		if input.ShiftWork != nil {
			u.ShiftWork = *input.ShiftWork
		}
		if err := checkUnique(ctx, tx, u.ID, u.FullName, u.Phone, u.Email); err != nil {
			return err
		}
		updated = *u
		return tx.UpdateUser(ctx, updated)
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, "user:update", id, nil)
	return updated, nil
}

// DeactivateUser marks the user inactive. Documents referencing it stay intact.
func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.LockUser(ctx, id)
		if err != nil {
			return err
		}
		u.Active = false
		return tx.UpdateUser(ctx, *u)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "user:deactivate", id, nil)
	return nil
}

// GetUser returns a single user.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers returns a filtered page of users.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	return s.repo.ListUsers(ctx, filter)
}

func checkUnique(ctx context.Context, tx TxRepository, excludeID, fullName, phone, email string) error {
	checks := []struct {
		match UserMatch
		err   error
	}{
		{UserMatch{ExcludeID: excludeID, FullName: fullName, Phone: phone}, ErrUserAlreadyExists},
		{UserMatch{ExcludeID: excludeID, Email: email}, ErrEmailExists},
		{UserMatch{ExcludeID: excludeID, Phone: phone}, ErrPhoneExists},
	}
	for _, c := range checks {
		if c.match.Phone == "" && c.match.Email == "" {
			continue
		}
		exists, err := tx.UserExists(ctx, c.match)
		if err != nil {
			return err
		}
		if exists {
			return c.err
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "user",
		EntityID: id,
		Meta:     meta,
	})
}
