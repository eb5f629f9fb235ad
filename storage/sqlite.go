package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"taskboard/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	user_id TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	due_date TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS users (
	email TEXT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	display_email TEXT NOT NULL,
	password_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at);
`

// SQLite stores tasks and users in a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, due_date, created_at
		FROM tasks WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, due_date, created_at
		FROM tasks WHERE user_id = ? AND id = ?`, userID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return t, err
}

func (s *SQLite) PutTask(ctx context.Context, userID string, t domain.Task) error {
	var due sql.NullString
	if t.DueDate != nil {
		due = sql.NullString{String: t.DueDate.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (user_id, id, title, description, status, priority, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			due_date = excluded.due_date`,
		userID, t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), due, t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) CreateUser(ctx context.Context, u domain.User) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, id, name, display_email, password_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`,
		domain.NormalizeEmail(u.Email), u.ID, u.Name, u.Email, u.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEmailTaken, u.Email)
	}
	return nil
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_email, password_hash FROM users WHERE email = ?`,
		domain.NormalizeEmail(email),
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("%w: user %s", domain.ErrNotFound, email)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var (
		t         domain.Task
		status    string
		priority  string
		due       sql.NullString
		createdMs int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &due, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("failed to read task: %w", err)
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	if due.Valid && due.String != "" {
		d, err := domain.ParseDate(due.String)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
		}
		t.DueDate = &d
	}
	return t, nil
}
