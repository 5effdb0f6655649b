package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// RoleMember is one user returned by a role lookup.
type RoleMember struct {
	ID    uuid.UUID
	Email string
}

// EmailForUser looks up a user's email address. ok is false when the user
// no longer exists or has no address on file; both are normal outcomes
// during recipient resolution, not errors.
func (s *DB) EmailForUser(ctx context.Context, id uuid.UUID) (string, bool, error) {
	var email sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT email FROM users WHERE id = ?`, id.String()).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	addr := strings.TrimSpace(email.String)
	return addr, addr != "", nil
}

// UsersInRole returns every user currently holding the role. Members
// without an email address are included with an empty Email; the resolver
// skips those.
func (s *DB) UsersInRole(ctx context.Context, role string) ([]RoleMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email
		 FROM users u JOIN user_roles r ON r.user_id = u.id
		 WHERE r.role = ?
		 ORDER BY u.id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoleMember
	for rows.Next() {
		var id string
		var email sql.NullString
		if err := rows.Scan(&id, &email); err != nil {
			return nil, err
		}
		uid, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		out = append(out, RoleMember{ID: uid, Email: strings.TrimSpace(email.String)})
	}
	return out, rows.Err()
}

// UpsertUser creates or updates a directory user.
func (s *DB) UpsertUser(ctx context.Context, id uuid.UUID, email, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, display_name) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email=excluded.email, display_name=excluded.display_name`,
		id.String(), nullStr(email), nullStr(displayName))
	return err
}

// AssignRole grants a role to a user (idempotent).
func (s *DB) AssignRole(ctx context.Context, userID uuid.UUID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles(user_id, role) VALUES(?,?)
		 ON CONFLICT(user_id, role) DO NOTHING`,
		userID.String(), role)
	return err
}
