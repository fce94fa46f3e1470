package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"blakv.app/support/common/id"
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/store"
)

var ErrUserNotFound = errors.New("user not found")

type UserService interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
	// Register creates the user, or updates name and role when the e-mail is
	// already known.
	Register(ctx context.Context, name, email string, role model.Role) (*model.User, error)
}

type userService struct {
	userStore store.UserStore
}

func NewUserService(userStore store.UserStore) UserService {
	return &userService{userStore: userStore}
}

func (s *userService) Get(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userStore.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return user, nil
}

func (s *userService) Register(ctx context.Context, name, email string, role model.Role) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || !role.Valid() {
		return nil, ErrInvalidInput
	}

	user := &model.User{ID: id.New(), Name: name, Email: email, Role: role}
	if email != "" {
		existing, err := s.userStore.GetByEmail(ctx, email)
		switch {
		case err == nil:
			user.ID = existing.ID
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("looking up user: %w", err)
		}
	}

	if err := s.userStore.Upsert(ctx, user); err != nil {
		slog.ErrorContext(ctx, "failed to upsert user", "error", err, "email", email)
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	slog.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}
