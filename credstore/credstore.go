// Package credstore persists the signed-in user's bearer token in a small
// sqlite database so boardctl invocations share one session.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CrowderSoup/kanban-sync/api"
)

var (
	ErrNoCredentials = errors.New("not signed in")
	ErrExpired       = errors.New("session expired, sign in again")
)

// Credentials is the stored session.
type Credentials struct {
	Token     string
	UserID    string
	Email     string
	Name      string
	BaseURL   string
	ExpiresAt time.Time
	SavedAt   time.Time
}

// Expired reports whether the token's exp claim has passed. Tokens without
// an exp claim never expire locally.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the credential database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP,
		saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credentials table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save stores a token, replacing any previous one. The user and expiry are
// read from the token's claims when the caller leaves them empty.
func (s *Store) Save(ctx context.Context, c Credentials) error {
	claims, err := Inspect(c.Token)
	if err != nil {
		return err
	}
	if c.UserID == "" {
		c.UserID = claims.UserID
	}
	if c.Email == "" {
		c.Email = claims.Email
	}
	if c.Name == "" {
		c.Name = claims.Name
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = claims.ExpiresAt
	}

	var expires any
	if !c.ExpiresAt.IsZero() {
		expires = c.ExpiresAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, token, user_id, email, name, base_url, expires_at, saved_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			email = excluded.email,
			name = excluded.name,
			base_url = excluded.base_url,
			expires_at = excluded.expires_at,
			saved_at = excluded.saved_at
	`, c.Token, c.UserID, c.Email, c.Name, c.BaseURL, expires, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Load returns the stored credentials, ErrNoCredentials when there are none.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	var (
		c       Credentials
		expires sql.NullTime
		saved   sql.NullTime
	)
	row := s.db.QueryRowContext(ctx,
		"SELECT token, user_id, email, name, base_url, expires_at, saved_at FROM credentials WHERE id = 1")
	err := row.Scan(&c.Token, &c.UserID, &c.Email, &c.Name, &c.BaseURL, &expires, &saved)
	if err == sql.ErrNoRows {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	if expires.Valid {
		c.ExpiresAt = expires.Time
	}
	if saved.Valid {
		c.SavedAt = saved.Time
	}
	return c, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials"); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Token implements api.TokenSource. An expired token is reported rather
// than sent.
func (s *Store) Token(ctx context.Context) (string, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	if c.Expired(s.now()) {
		return "", ErrExpired
	}
	return c.Token, nil
}

var _ api.TokenSource = (*Store)(nil)

// Claims are the parts of a session token the client cares about.
type Claims struct {
	UserID    string
	Email     string
	Name      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Inspect reads a token's claims without verifying its signature; only the
// server holds the key.
func Inspect(token string) (Claims, error) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return Claims{}, fmt.Errorf("malformed token: %w", err)
	}
	c := Claims{UserID: tc.UserID, Email: tc.Email, Name: tc.Name}
	if c.UserID == "" {
		c.UserID = tc.Subject
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}
