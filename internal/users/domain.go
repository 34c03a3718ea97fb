package users

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/shared"
)

// Role enumerates staff roles.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleStaff          Role = "staff"
	RoleCollaborator   Role = "collaborator"
	RoleWarehouseStaff Role = "warehouse_staff"
)

// User is an employee who creates documents and accrues sales.
type User struct {
	ID           string          `json:"id"`
	FullName     string          `json:"full_name"`
	Role         Role            `json:"role"`
	Phone        string          `json:"phone_number,omitempty"`
	Email        string          `json:"email,omitempty"`
	Address      string          `json:"address,omitempty"`
	ShiftWork    string          `json:"shift_work,omitempty"`
	Active       bool            `json:"active"`
	TotalOrders  int             `json:"total_orders"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RecordSale adds one order and its value to the running totals.
func (u *User) RecordSale(total decimal.Decimal) {
	u.TotalOrders++
	u.TotalRevenue = u.TotalRevenue.Add(total)
}

// ReverseSale removes one order and its value from the running totals.
func (u *User) ReverseSale(total decimal.Decimal) {
	u.TotalOrders--
	u.TotalRevenue = u.TotalRevenue.Sub(total)
}

// CreateInput describes a new employee.
type CreateInput struct {
	FullName  string `json:"full_name" validate:"required"`
	Role      Role   `json:"role" validate:"required,oneof=admin staff collaborator warehouse_staff"`
	Phone     string `json:"phone_number" validate:"omitempty,vnphone"`
	Email     string `json:"email" validate:"omitempty,email"`
	Address   string `json:"address"`
	ShiftWork string `json:"shift_work"`
}

// UpdateInput carries optional employee changes.
type UpdateInput struct {
	FullName  *string `json:"full_name" validate:"omitempty,min=1"`
	Role      *Role   `json:"role" validate:"omitempty,oneof=admin staff collaborator warehouse_staff"`
	Phone     *string `json:"phone_number" validate:"omitempty,vnphone"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Address   *string `json:"address"`
	ShiftWork *string `json:"shift_work"`
}

// ListFilter narrows user listings.
type ListFilter struct {
	Search     string
	ActiveOnly bool
	Page       shared.PageRequest
}

var (
	ErrUserNotFound      = shared.ErrUserNotFound
	ErrUserAlreadyExists = shared.NewError(shared.ErrConflict, "USER_ALREADY_EXISTS", "user with this name and phone already exists")
	ErrEmailExists       = shared.NewError(shared.ErrConflict, "EMAIL_ALREADY_EXISTS", "email already registered")
	ErrPhoneExists       = shared.NewError(shared.ErrConflict, "PHONE_NUMBER_ALREADY_EXISTS", "phone number already registered")
)
