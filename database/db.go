package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNotMember = errors.New("not a member of this board")
	ErrExpired   = errors.New("invitation has expired")
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		background TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS board_members (
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL DEFAULT 'member',
		joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (board_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		labels TEXT NOT NULL DEFAULT '[]',
		due_start TIMESTAMP,
		due_end TIMESTAMP,
		checklists TEXT NOT NULL DEFAULT '[]',
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invitations (
		token TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		invited_by TEXT NOT NULL REFERENCES users(id),
		expires_at TIMESTAMP NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS lists_board ON lists(board_id, position)`,
	`CREATE INDEX IF NOT EXISTS cards_list ON cards(list_id, position)`,
}

// InitDB opens the sqlite database at path and creates the schema.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	log.WithField("path", path).Info("Database initialized successfully")
	return db, nil
}

// DataService handles database operations for boards and their members
type DataService struct {
	db  *sql.DB
	now func() time.Time
}

func NewDataService(db *sql.DB) *DataService {
	return &DataService{db: db, now: time.Now}
}

func newID() string { return uuid.NewString() }

// inTx runs fn in a transaction, committing when it returns nil.
func (s *DataService) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertUser returns the user with this email, creating them on first sign
// in. A non-empty name replaces the stored one.
func (s *DataService) UpsertUser(ctx context.Context, email, name string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u User
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT id, email, name, created_at FROM users WHERE email = ?", email)
		err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
		if err == sql.ErrNoRows {
			if name == "" {
				name = strings.SplitN(email, "@", 2)[0]
			}
			u = User{ID: newID(), Email: email, Name: name, CreatedAt: s.now().UTC()}
			_, err = tx.ExecContext(ctx, "INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)",
				u.ID, u.Email, u.Name, u.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert user: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query user: %w", err)
		}
		if name != "" && name != u.Name {
			u.Name = name
			if _, err := tx.ExecContext(ctx, "UPDATE users SET name = ? WHERE id = ?", name, u.ID); err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}
		}
		return nil
	})
	return u, err
}

func (s *DataService) User(ctx context.Context, id string) (User, error) {
	var u User
	row := s.db.QueryRowContext(ctx, "SELECT id, email, name, created_at FROM users WHERE id = ?", id)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}
