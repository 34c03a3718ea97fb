package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilas/backoffice/internal/platform/db"
	"github.com/lilas/backoffice/internal/shared"
)

// Repository persists users in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	StaffTx
	shared.Sequencer
	InsertUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	UserExists(ctx context.Context, m UserMatch) (bool, error)
}

// UserMatch selects users by equality on its non-empty fields.
type UserMatch struct {
	ExcludeID string
	FullName  string
	Phone     string
	Email     string
}

type txRepo struct {
	StaffTx
	*shared.PGSequencer
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{StaffTx: NewStaffTx(tx), PGSequencer: shared.NewPGSequencer(tx), tx: tx})
	})
}

// GetUser loads one user.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// ListUsers returns a page of users and the total count.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	if filter.ActiveOnly {
		where = append(where, "active")
	}
	if q := shared.NormalizeSearch(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("search_text LIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func searchText(u User) string {
	return shared.NormalizeSearch(strings.Join([]string{u.ID, u.FullName, u.Phone, u.Email}, " "))
}

func (t *txRepo) InsertUser(ctx context.Context, u User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, full_name, role, phone_number, email, address, shift_work, active, total_orders, total_revenue, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.FullName, u.Role, u.Phone, u.Email, u.Address, u.ShiftWork, u.Active, u.TotalOrders, u.TotalRevenue, searchText(u))
	if shared.IsUniqueViolation(err) {
		return ErrUserAlreadyExists
	}
	return err
}

func (t *txRepo) UpdateUser(ctx context.Context, u User) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users SET full_name = $2, role = $3, phone_number = $4, email = $5, address = $6,
			shift_work = $7, active = $8, search_text = $9
		WHERE id = $1`,
		u.ID, u.FullName, u.Role, u.Phone, u.Email, u.Address, u.ShiftWork, u.Active, searchText(u))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ErrUserAlreadyExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UserExists reports whether a user other than m.ExcludeID matches every non-empty field of m.
func (t *txRepo) UserExists(ctx context.Context, m UserMatch) (bool, error) {
	where := []string{"id <> $1"}
	args := []any{m.ExcludeID}
	if m.FullName != "" {
		args = append(args, m.FullName)
		where = append(where, fmt.Sprintf("full_name = $%d", len(args)))
	}
	if m.Phone != "" {
		args = append(args, m.Phone)
		where = append(where, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if m.Email != "" {
		args = append(args, m.Email)
		where = append(where, fmt.Sprintf("lower(email) = lower($%d)", len(args)))
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE `+strings.Join(where, " AND ")+`)`, args...).Scan(&exists)
	return exists, err
}
