package storage

import (
	"context"
	"errors"
	"time"

	"spendlog/internal/core"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type (
	UserStore interface {
		CreateUser(ctx context.Context, u core.User) (core.User, error)
		UpdateUser(ctx context.Context, externalID string, patch core.UserPatch) (core.User, error)
		DeleteUser(ctx context.Context, externalID string) error
		GetUser(ctx context.Context, externalID string) (core.User, error)
		ListUsers(ctx context.Context) ([]core.User, error)
	}

	RecordStore interface {
		CreateRecord(ctx context.Context, r core.Record) (core.Record, error)
		GetRecord(ctx context.Context, id string) (core.Record, error)
		// UserWithRecords returns the user and its records in insertion order.
		UserWithRecords(ctx context.Context, externalID string) (core.UserWithRecords, error)
		// RecentRecords returns the user's records dated at or after since,
		// newest first.
		RecentRecords(ctx context.Context, externalID string, since time.Time) ([]core.Record, error)
	}

	// Repository is the full data-access surface used by the services.
	Repository interface {
		UserStore
		RecordStore
		Ping(ctx context.Context) error
		Close() error
	}
)
