package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// StaffTx is the transactional user access other modules embed in their own
// transaction repositories.
type StaffTx interface {
	// LockUser loads the user row for update. Missing users yield ErrUserNotFound.
	LockUser(ctx context.Context, id string) (*User, error)
	// SaveUserStats persists the order and revenue counters.
	SaveUserStats(ctx context.Context, u *User) error
}

// RequireActive loads id and fails unless the user exists and is active.
func RequireActive(ctx context.Context, tx StaffTx, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	u, err := tx.LockUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrUserNotFound
	}
	return u, nil
}

type pgStaff struct {
	tx pgx.Tx
}

// NewStaffTx binds StaffTx to a pgx transaction.
func NewStaffTx(tx pgx.Tx) StaffTx {
	return &pgStaff{tx: tx}
}

const userColumns = `id, full_name, role, phone_number, email, address, shift_work, active, total_orders, total_revenue, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Role, &u.Phone, &u.Email, &u.Address, &u.ShiftWork, &u.Active, &u.TotalOrders, &u.TotalRevenue, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (s *pgStaff) LockUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgStaff) SaveUserStats(ctx context.Context, u *User) error {
	tag, err := s.tx.Exec(ctx, `UPDATE users SET total_orders = $2, total_revenue = $3 WHERE id = $1`, u.ID, u.TotalOrders, u.TotalRevenue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
