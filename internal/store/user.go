package store

import (
	"context"
	"errors"

	"blakv.app/support/core/db"
	"blakv.app/support/internal/model"
	"github.com/jackc/pgx/v5"
)

type userStore struct {
	queries db.Querier
}

func newUserStore(queries db.Querier) UserStore {
	return &userStore{queries: queries}
}

const userColumns = `id, name, email, role, created_at`

func (s *userStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *userStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *userStore) Upsert(ctx context.Context, user *model.User) error {
	row := s.queries.QueryRow(ctx, `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role
		RETURNING `+userColumns,
		user.ID, user.Name, user.Email, string(user.Role),
	)
	u, err := scanUser(row)
	if err != nil {
		return err
	}
	*user = *u
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}
