package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/storage"
)

const userNotFound = "User not found"

type UserService struct {
	store storage.UserStore
	now   func() time.Time
}

func NewUserService(store storage.UserStore, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{store: store, now: now}
}

// Create inserts a user. Creating a user that already exists returns the
// stored one, so redelivered webhooks are harmless.
func (s *UserService) Create(ctx context.Context, u core.User) (core.User, error) {
	u.ExternalID = strings.TrimSpace(u.ExternalID)
	u.Name = u.DisplayName()
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}

	created, err := s.store.CreateUser(ctx, u)
	if errors.Is(err, storage.ErrAlreadyExists) {
		slog.InfoContext(ctx, "User already exists",
			log.FieldComponent, log.ComponentUsers,
			log.FieldUserID, u.ExternalID)
		existing, getErr := s.store.GetUser(ctx, u.ExternalID)
		if getErr != nil {
			return core.User{}, storeError(getErr, userNotFound, "Failed to create user")
		}
		return existing, nil
	}
	if err != nil {
		return core.User{}, storeError(err, userNotFound, "Failed to create user")
	}

	slog.InfoContext(ctx, "User created",
		log.FieldComponent, log.ComponentUsers,
		log.FieldOperation, log.OpCreate,
		log.FieldUserID, created.ExternalID)
	return created, nil
}

func (s *UserService) Update(ctx context.Context, externalID string, patch core.UserPatch) (core.User, error) {
	if strings.TrimSpace(externalID) == "" {
		return core.User{}, core.Validation(map[string]string{"clerkId": "User ID is required"})
	}
	if err := patch.Validate(); err != nil {
		return core.User{}, err
	}

	u, err := s.store.UpdateUser(ctx, externalID, patch)
	if err != nil {
		return core.User{}, storeError(err, userNotFound, "Failed to update user")
	}
	return u, nil
}

// Delete removes the user and, by cascade, its records.
func (s *UserService) Delete(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return core.Validation(map[string]string{"clerkId": "User ID is required"})
	}
	if err := s.store.DeleteUser(ctx, externalID); err != nil {
		return storeError(err, userNotFound, "Failed to delete user")
	}

	slog.InfoContext(ctx, "User deleted",
		log.FieldComponent, log.ComponentUsers,
		log.FieldOperation, log.OpDelete,
		log.FieldUserID, externalID)
	return nil
}

// Current returns the authenticated caller's user.
func (s *UserService) Current(ctx context.Context) (core.User, error) {
	id, err := caller(ctx)
	if err != nil {
		return core.User{}, err
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return core.User{}, storeError(err, userNotFound, "Failed to load user")
	}
	return u, nil
}

// All lists every user. Only authenticated callers may list.
func (s *UserService) All(ctx context.Context) ([]core.User, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, core.Internal("Failed to list users", err)
	}
	return users, nil
}
