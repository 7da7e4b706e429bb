// Package seed loads the sample users used in development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

// SampleUsers returns the development users. Callers get a fresh slice.
func SampleUsers() []core.User {
	return []core.User{
		sample("user_2abc123def456ghi", "John", "Doe", "john.doe@example.com"),
		sample("user_2xyz789uvw012rst", "Jane", "Smith", "jane.smith@example.com"),
		sample("user_2mno345pqr678stu", "Bob", "Johnson", "bob.johnson@example.com"),
		sample("user_2efg901hij234klm", "Alice", "Wilson", "alice.wilson@example.com"),
		sample("user_2nop567qrs890tuv", "Charlie", "Brown", "charlie.brown@example.com"),
	}
}

func sample(externalID, first, last, email string) core.User {
	return core.User{
		ExternalID: externalID,
		Name:       first + " " + last,
		Email:      email,
		FirstName:  first,
		LastName:   last,
		Photo:      "https://images.clerk.dev/uploaded/img_" + externalID[len("user_"):] + ".jpeg",
	}
}

// Run inserts users, skipping ones that already exist. With reset, every
// stored user (and so every record) is deleted first.
func Run(ctx context.Context, store storage.UserStore, users []core.User, reset bool) ([]core.User, error) {
	if reset {
		existing, err := store.ListUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		for _, u := range existing {
			if err := store.DeleteUser(ctx, u.ExternalID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("delete user %s: %w", u.ExternalID, err)
			}
		}
		slog.InfoContext(ctx, "Cleared existing users", "count", len(existing))
	}

	created := make([]core.User, 0, len(users))
	for _, u := range users {
		got, err := store.CreateUser(ctx, u)
		if errors.Is(err, storage.ErrAlreadyExists) {
			slog.InfoContext(ctx, "User already present, skipping", "clerk_id", u.ExternalID)
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create user %s: %w", u.ExternalID, err)
		}
		created = append(created, got)
	}
	return created, nil
}
