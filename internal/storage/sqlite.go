package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"spendlog/internal/core"
)

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02 15:04:05.000000000"

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// dsn enables foreign keys on every pooled connection; cascades depend on it.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const userColumns = `id, name, email, "clerkId", "firstName", "lastName", photo, created_at, updated_at`

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (name, email, "clerkId", "firstName", "lastName", photo, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.ExternalID, u.FirstName, u.LastName, u.Photo,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", mapSQLiteError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("read user id: %w", err)
	}
	u.ID = id

	slog.InfoContext(ctx, "User saved to SQLite", "id", u.ID, "clerk_id", u.ExternalID)
	return u, nil
}

// UpdateUser applies the patch in a single UPDATE. Unset fields keep their
// value through COALESCE.
func (r *SQLiteRepository) UpdateUser(ctx context.Context, externalID string, patch core.UserPatch) (core.User, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			name = COALESCE(?, name),
			email = COALESCE(?, email),
			"firstName" = COALESCE(?, "firstName"),
			"lastName" = COALESCE(?, "lastName"),
			photo = COALESCE(?, photo),
			updated_at = ?
		 WHERE "clerkId" = ?`,
		nullable(patch.Name), nullable(patch.Email), nullable(patch.FirstName),
		nullable(patch.LastName), nullable(patch.Photo),
		formatTime(time.Now().UTC()), externalID)
	if err != nil {
		return core.User{}, fmt.Errorf("update user: %w", mapSQLiteError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.User{}, fmt.Errorf("update user %s: %w", externalID, ErrNotFound)
	}
	return r.GetUser(ctx, externalID)
}

func (r *SQLiteRepository) DeleteUser(ctx context.Context, externalID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE "clerkId" = ?`, externalID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete user %s: %w", externalID, ErrNotFound)
	}

	slog.InfoContext(ctx, "User deleted from SQLite", "clerk_id", externalID)
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, externalID string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE "clerkId" = ?`, externalID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("get user %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
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

func (r *SQLiteRepository) CreateRecord(ctx context.Context, rec core.Record) (core.Record, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO records (id, text, amount, category, date, "userId", created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID(), rec.Text(), rec.Amount(), string(rec.Category()),
		formatTime(rec.Date()), rec.UserID(), formatTime(rec.CreatedAt()))
	if err != nil {
		return core.Record{}, fmt.Errorf("insert record: %w", mapSQLiteError(err))
	}

	slog.InfoContext(ctx, "Record saved to SQLite",
		"id", rec.ID(),
		"user_id", rec.UserID(),
		"amount", rec.Amount(),
		"category", rec.Category())
	return rec, nil
}

func (r *SQLiteRepository) GetRecord(ctx context.Context, id string) (core.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, text, amount, category, date, "userId", created_at FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) UserWithRecords(ctx context.Context, externalID string) (core.UserWithRecords, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, u."clerkId", u."firstName", u."lastName", u.photo, u.created_at, u.updated_at,
		        r.id, r.text, r.amount, r.category, r.date, r."userId", r.created_at
		 FROM users u
		 LEFT JOIN records r ON r."userId" = u."clerkId"
		 WHERE u."clerkId" = ?
		 ORDER BY r.created_at, r.rowid`, externalID)
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
			u                                   core.User
			uCreated, uUpdated                  string
			rID, rText, rCat, rDate, rUser, rAt sql.NullString
			rAmount                             sql.NullFloat64
		)
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.ExternalID, &u.FirstName, &u.LastName, &u.Photo, &uCreated, &uUpdated,
			&rID, &rText, &rAmount, &rCat, &rDate, &rUser, &rAt); err != nil {
			return core.UserWithRecords{}, fmt.Errorf("scan user with records: %w", err)
		}
		if !found {
			if u.CreatedAt, err = parseTime(uCreated); err != nil {
				return core.UserWithRecords{}, err
			}
			if u.UpdatedAt, err = parseTime(uUpdated); err != nil {
				return core.UserWithRecords{}, err
			}
			out.User = u
			found = true
		}
		if !rID.Valid {
			continue
		}
		rec, err := buildRecord(rID.String, rText.String, rAmount.Float64, rCat.String, rDate.String, rUser.String, rAt.String)
		if err != nil {
			return core.UserWithRecords{}, err
		}
		out.Records = append(out.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return core.UserWithRecords{}, fmt.Errorf("iterate user with records: %w", err)
	}
	if !found {
		return core.UserWithRecords{}, fmt.Errorf("user with records %s: %w", externalID, ErrNotFound)
	}
	return out, nil
}

func (r *SQLiteRepository) RecentRecords(ctx context.Context, externalID string, since time.Time) ([]core.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, text, amount, category, date, "userId", created_at
		 FROM records
		 WHERE "userId" = ? AND date >= ?
		 ORDER BY date DESC, rowid DESC`,
		externalID, formatTime(since.UTC()))
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

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (core.User, error) {
	var (
		u                core.User
		created, updated string
	)
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &u.ExternalID, &u.FirstName, &u.LastName, &u.Photo, &created, &updated); err != nil {
		return core.User{}, err
	}
	var err error
	if u.CreatedAt, err = parseTime(created); err != nil {
		return core.User{}, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func scanRecord(s scanner) (core.Record, error) {
	var (
		id, text, category, date, userID, created string
		amount                                    float64
	)
	if err := s.Scan(&id, &text, &amount, &category, &date, &userID, &created); err != nil {
		return core.Record{}, err
	}
	return buildRecord(id, text, amount, category, date, userID, created)
}

func buildRecord(id, text string, amount float64, category, date, userID, created string) (core.Record, error) {
	d, err := parseTime(date)
	if err != nil {
		return core.Record{}, err
	}
	c, err := parseTime(created)
	if err != nil {
		return core.Record{}, err
	}
	rec, err := core.NewRecord(core.RecordParams{
		ID:        id,
		Text:      text,
		Amount:    amount,
		Category:  core.Category(category),
		Date:      d,
		UserID:    userID,
		CreatedAt: c,
	})
	if err != nil {
		return core.Record{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// mapSQLiteError translates constraint violations into storage sentinels.
func mapSQLiteError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("owner %w: %v", ErrNotFound, err)
	default:
		return err
	}
}
