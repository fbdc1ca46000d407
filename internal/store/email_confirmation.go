package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

// ConfirmationTTL is how long an email confirmation link stays usable.
const ConfirmationTTL = 24 * time.Hour

type EmailConfirmationStore struct {
	db *sql.DB
}

func NewEmailConfirmationStore(db *sql.DB) *EmailConfirmationStore {
	return &EmailConfirmationStore{db: db}
}

func scanEmailConfirmation(s scanner) (*model.EmailConfirmation, error) {
	var ec model.EmailConfirmation
	var confirmedAt sql.NullTime

	err := s.Scan(&ec.ID, &ec.Token, &ec.UserID, &ec.Email, &ec.ExpiresAt, &confirmedAt, &ec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		ec.ConfirmedAt = &confirmedAt.Time
	}
	return &ec, nil
}

const emailConfirmationCols = `id, token, user_id, email, expires_at, confirmed_at, created_at`

// Create issues a confirmation token for the given address. Pending tokens of
// the same user are invalidated first, so only the newest link works.
func (s *EmailConfirmationStore) Create(ctx context.Context, userID int64, email string) (*model.EmailConfirmation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_confirmations SET expires_at = ? WHERE user_id = ? AND confirmed_at IS NULL AND expires_at > ?`,
		now, userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous confirmations: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO email_confirmations (token, user_id, email, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, email, now.Add(ConfirmationTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("insert email confirmation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+emailConfirmationCols+` FROM email_confirmations WHERE id = ?`, id)
	return scanEmailConfirmation(row)
}

// GetByToken returns the pending confirmation for token, or nil if it is
// unknown, expired or already confirmed.
func (s *EmailConfirmationStore) GetByToken(ctx context.Context, token string) (*model.EmailConfirmation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailConfirmationCols+` FROM email_confirmations WHERE token = ? AND expires_at > ? AND confirmed_at IS NULL`,
		token, time.Now().UTC(),
	)
	ec, err := scanEmailConfirmation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email confirmation: %w", err)
	}
	return ec, nil
}

func (s *EmailConfirmationStore) MarkConfirmed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_confirmations SET confirmed_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark email confirmed: %w", err)
	}
	return nil
}

func (s *EmailConfirmationStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM email_confirmations WHERE expires_at <= ? AND confirmed_at IS NULL`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired confirmations: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
