package users

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/shared"
)

type memoryRepo struct {
	users map[string]User
	seq   *shared.MemorySequencer
}

type memoryTx struct {
	*shared.MemorySequencer
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[string]User), seq: shared.NewMemorySequencer()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := make(map[string]User, len(r.users))
	for k, v := range r.users {
		snap[k] = v
	}
	if err := fn(ctx, &memoryTx{MemorySequencer: r.seq, repo: r}); err != nil {
		r.users = snap
		return err
	}
	return nil
}

func (r *memoryRepo) GetUser(ctx context.Context, id string) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memoryRepo) ListUsers(ctx context.Context, filter ListFilter) ([]User, int, error) {
	var out []User
	for _, u := range r.users {
		if filter.ActiveOnly && !u.Active {
			continue
		}
		if !shared.MatchesSearch(filter.Search, u.ID, u.FullName, u.Phone) {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

func (tx *memoryTx) LockUser(ctx context.Context, id string) (*User, error) {
	u, ok := tx.repo.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (tx *memoryTx) SaveUserStats(ctx context.Context, u *User) error {
	cur := tx.repo.users[u.ID]
	cur.TotalOrders, cur.TotalRevenue = u.TotalOrders, u.TotalRevenue
	tx.repo.users[u.ID] = cur
	return nil
}

func (tx *memoryTx) InsertUser(ctx context.Context, u User) error {
	tx.repo.users[u.ID] = u
	return nil
}

func (tx *memoryTx) UpdateUser(ctx context.Context, u User) error {
	if _, ok := tx.repo.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	tx.repo.users[u.ID] = u
	return nil
}

func (tx *memoryTx) UserExists(ctx context.Context, m UserMatch) (bool, error) {
	for _, u := range tx.repo.users {
		if u.ID == m.ExcludeID {
			continue
		}
		if m.FullName != "" && u.FullName != m.FullName {
			continue
		}
		if m.Phone != "" && u.Phone != m.Phone {
			continue
		}
		if m.Email != "" && !strings.EqualFold(u.Email, m.Email) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func TestCreateUserAssignsSequentialCodes(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	first, err := svc.CreateUser(ctx, CreateInput{FullName: "Trần Thị Mai", Role: RoleStaff, Phone: "0912345678"})
	require.NoError(t, err)
	require.Equal(t, "NV1", first.ID)
	require.True(t, first.Active)

	second, err := svc.CreateUser(ctx, CreateInput{FullName: "Lê Văn Nam", Role: RoleWarehouseStaff})
	require.NoError(t, err)
	require.Equal(t, "NV2", second.ID)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateInput{FullName: "Mai", Role: RoleStaff, Phone: "0912345678", Email: "mai@lilas.vn"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, CreateInput{FullName: "Mai", Role: RoleStaff, Phone: "0912345678"})
	require.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = svc.CreateUser(ctx, CreateInput{FullName: "Hoa", Role: RoleStaff, Email: "MAI@lilas.vn"})
	require.ErrorIs(t, err, ErrEmailExists)

	_, err = svc.CreateUser(ctx, CreateInput{FullName: "Hoa", Role: RoleStaff, Phone: "0912345678"})
	require.ErrorIs(t, err, ErrPhoneExists)
}

func TestCreateUserValidatesInput(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.CreateUser(context.Background(), CreateInput{FullName: "Mai", Role: "boss"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "INVALID_ROLE", shared.CodeOf(err))
}

func TestUpdateAndDeactivate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, CreateInput{FullName: "Mai", Role: RoleStaff})
	require.NoError(t, err)

	name := "Nguyễn Thị Mai"
	updated, err := svc.UpdateUser(ctx, u.ID, UpdateInput{FullName: &name})
	require.NoError(t, err)
	require.Equal(t, name, updated.FullName)

	require.NoError(t, svc.DeactivateUser(ctx, u.ID))
	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	list, total, err := svc.ListUsers(ctx, ListFilter{Search: "nguyen mai"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, u.ID, list[0].ID)
}
