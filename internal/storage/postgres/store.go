// Package postgres is the Postgres-backed storage.Repository.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres error codes mapped onto storage sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Ensure Store satisfies the storage.Repository interface at compile time.
var _ storage.Repository = (*Store)(nil)

// Store provides Postgres-backed persistence for users and records.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL, applies pending migrations and returns the store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// RunMigrations applies the embedded schema through a short-lived database/sql handle.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create pgx driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const userColumns = `id, name, email, "clerkId", "firstName", "lastName", photo, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, "clerkId", "firstName", "lastName", photo, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+userColumns,
		u.Name, u.Email, u.ExternalID, u.FirstName, u.LastName, u.Photo, u.CreatedAt)
	created, err := scanUser(row)
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", mapError(err))
	}

	slog.InfoContext(ctx, "User saved to Postgres", "id", created.ID, "clerk_id", created.ExternalID)
	return created, nil
}

// UpdateUser writes only the fields set in the patch.
func (s *Store) UpdateUser(ctx context.Context, externalID string, patch core.UserPatch) (core.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET
			name = COALESCE($1, name),
			email = COALESCE($2, email),
			"firstName" = COALESCE($3, "firstName"),
			"lastName" = COALESCE($4, "lastName"),
			photo = COALESCE($5, photo),
			updated_at = $6
		WHERE "clerkId" = $7
		RETURNING `+userColumns,
		patch.Name, patch.Email, patch.FirstName, patch.LastName, patch.Photo,
		time.Now().UTC(), externalID)
	u, err := scanUser(row)
	if err != nil {
		return core.User{}, fmt.Errorf("update user %s: %w", externalID, mapError(err))
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, externalID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE "clerkId" = $1`, externalID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete user %s: %w", externalID, storage.ErrNotFound)
	}

	slog.InfoContext(ctx, "User deleted from Postgres", "clerk_id", externalID)
	return nil
}

func (s *Store) GetUser(ctx context.Context, externalID string) (core.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE "clerkId" = $1`, externalID)
	u, err := scanUser(row)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", externalID, mapError(err))
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CreateRecord(ctx context.Context, rec core.Record) (core.Record, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO records (id, text, amount, category, date, "userId", created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID(), rec.Text(), rec.Amount(), string(rec.Category()), rec.Date(), rec.UserID(), rec.CreatedAt())
	if err != nil {
		return core.Record{}, fmt.Errorf("insert record: %w", mapError(err))
	}

	slog.InfoContext(ctx, "Record saved to Postgres",
		"id", rec.ID(),
		"user_id", rec.UserID(),
		"amount", rec.Amount(),
		"category", rec.Category())
	return rec, nil
}

const recordColumns = `id, text, amount, category, date, "userId", created_at`

func (s *Store) GetRecord(ctx context.Context, id string) (core.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return core.Record{}, fmt.Errorf("get record %s: %w", id, mapError(err))
	}
	return rec, nil
}

func (s *Store) UserWithRecords(ctx context.Context, externalID string) (core.UserWithRecords, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, u."clerkId", u."firstName", u."lastName", u.photo, u.created_at, u.updated_at,
		       r.id, r.text, r.amount, r.category, r.date, r."userId", r.created_at
		FROM users u
		LEFT JOIN records r ON r."userId" = u."clerkId"
		WHERE u."clerkId" = $1
		ORDER BY r.created_at, r.seq`, externalID)
	if err != nil {
		return core.UserWithRecords{}, fmt.Errorf("query user with records: %w", err)
	}
	defer rows.Close()

	var (
		out   core.UserWithRecords
		found bool
	)
	out.Records = []core.Record{}
	for rows.Next() {
		var (
			u                       core.User
			rID, rText, rCat, rUser *string
			rAmount                 *float64
			rDate, rCreated         *time.Time
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.ExternalID, &u.FirstName, &u.LastName, &u.Photo, &u.CreatedAt, &u.UpdatedAt,
			&rID, &rText, &rAmount, &rCat, &rDate, &rUser, &rCreated); err != nil {
			return core.UserWithRecords{}, fmt.Errorf("scan user with records: %w", err)
		}
		if !found {
			u.CreatedAt = u.CreatedAt.UTC()
			u.UpdatedAt = u.UpdatedAt.UTC()
			out.User = u
			found = true
		}
		if rID == nil {
			continue
		}
		rec, err := core.NewRecord(core.RecordParams{
			ID:        *rID,
			Text:      *rText,
			Amount:    *rAmount,
			Category:  core.Category(*rCat),
			Date:      *rDate,
			UserID:    *rUser,
			CreatedAt: *rCreated,
		})
		if err != nil {
			return core.UserWithRecords{}, fmt.Errorf("decode record %s: %w", *rID, err)
		}
		out.Records = append(out.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return core.UserWithRecords{}, fmt.Errorf("iterate user with records: %w", err)
	}
	if !found {
		return core.UserWithRecords{}, fmt.Errorf("user with records %s: %w", externalID, storage.ErrNotFound)
	}
	return out, nil
}

func (s *Store) RecentRecords(ctx context.Context, externalID string, since time.Time) ([]core.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE "userId" = $1 AND date >= $2
		ORDER BY date DESC, seq DESC`, externalID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query recent records: %w", err)
	}
	defer rows.Close()

	records := []core.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanUser(row pgx.Row) (core.User, error) {
	var u core.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.ExternalID, &u.FirstName, &u.LastName, &u.Photo, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return core.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func scanRecord(row pgx.Row) (core.Record, error) {
	var (
		p        core.RecordParams
		category string
	)
	if err := row.Scan(&p.ID, &p.Text, &p.Amount, &category, &p.Date, &p.UserID, &p.CreatedAt); err != nil {
		return core.Record{}, err
	}
	p.Category = core.Category(category)
	rec, err := core.NewRecord(p)
	if err != nil {
		return core.Record{}, fmt.Errorf("decode record %s: %w", p.ID, err)
	}
	return rec, nil
}

// mapError translates pgx errors into storage sentinels.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, pgErr.Message)
		case codeForeignKeyViolation:
			return fmt.Errorf("owner %w: %s", storage.ErrNotFound, pgErr.Message)
		}
	}
	return err
}
