package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

// IdentityStore persists the authentication half of a user: the anonymous
// flag, email and password hash. The profile half lives in UserStore.
type IdentityStore struct {
	db *sql.DB
}

func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func scanIdentity(s scanner) (*model.Identity, error) {
	var id model.Identity
	var anonymous int
	var email sql.NullString
	var confirmedAt sql.NullTime

	err := s.Scan(&id.UserID, &anonymous, &email, &id.PasswordHash, &confirmedAt, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		return nil, err
	}

	id.IsAnonymous = anonymous != 0
	if email.Valid {
		id.Email = &email.String
	}
	if confirmedAt.Valid {
		id.EmailConfirmedAt = &confirmedAt.Time
	}
	return &id, nil
}

const identityCols = `user_id, is_anonymous, email, password_hash, email_confirmed_at, created_at, updated_at`

// CreateUser inserts a profile row and its identity in one transaction.
// A nil email creates an anonymous identity.
func (s *IdentityStore) CreateUser(ctx context.Context, displayName string, email *string, passwordHash string) (*model.User, *model.Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO users (display_name) VALUES (?)`, displayName)
	if err != nil {
		return nil, nil, fmt.Errorf("insert user: %w", err)
	}
	userID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	var e sql.NullString
	if email != nil {
		e = sql.NullString{String: *email, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO auth_identities (user_id, is_anonymous, email, password_hash) VALUES (?, ?, ?, ?)`,
		userID, boolToInt(email == nil), e, passwordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("insert identity: %w", ErrDuplicate)
		}
		return nil, nil, fmt.Errorf("insert identity: %w", err)
	}

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, nil, fmt.Errorf("read user: %w", err)
	}
	ident, err := scanIdentity(tx.QueryRowContext(ctx, `SELECT `+identityCols+` FROM auth_identities WHERE user_id = ?`, userID))
	if err != nil {
		return nil, nil, fmt.Errorf("read identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return u, ident, nil
}

func (s *IdentityStore) GetByUserID(ctx context.Context, userID int64) (*model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityCols+` FROM auth_identities WHERE user_id = ?`, userID)
	id, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityCols+` FROM auth_identities WHERE email = ?`, email)
	id, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by email: %w", err)
	}
	return id, nil
}

// AttachEmail converts an anonymous identity into an email identity in place.
// It matches only while the identity is still anonymous; otherwise it returns
// ErrNotModified and leaves the row untouched.
func (s *IdentityStore) AttachEmail(ctx context.Context, userID int64, email, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_identities
		 SET is_anonymous = 0, email = ?, password_hash = ?, email_confirmed_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND is_anonymous = 1`,
		email, passwordHash, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attach email: %w", ErrDuplicate)
		}
		return fmt.Errorf("attach email: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attach email: %w", ErrNotModified)
	}
	return nil
}

func (s *IdentityStore) MarkEmailConfirmed(ctx context.Context, userID int64, email string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_identities SET email_confirmed_at = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ? AND email = ?`,
		at.UTC(), userID, email,
	)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("confirm email: %w", ErrNotModified)
	}
	return nil
}
