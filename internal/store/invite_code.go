package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

// InviteCodeStore persists household invite codes. Every time comparison takes
// an explicit now, so callers own the clock.
type InviteCodeStore struct {
	db *sql.DB
}

func NewInviteCodeStore(db *sql.DB) *InviteCodeStore {
	return &InviteCodeStore{db: db}
}

func scanInviteCode(s scanner) (*model.InviteCode, error) {
	var c model.InviteCode
	var isUsed int
	var usedBy sql.NullInt64
	var usedAt sql.NullTime

	err := s.Scan(
		&c.ID, &c.Code, &c.HouseholdID, &c.CreatedBy, &c.ExpiresAt,
		&isUsed, &usedBy, &usedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.IsUsed = isUsed != 0
	if usedBy.Valid {
		c.UsedBy = &usedBy.Int64
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

const inviteCodeCols = `id, code, household_id, created_by, expires_at, is_used, used_by, used_at, created_at`

// Create inserts an unused code. A code that collides with another unused
// code yields ErrDuplicate.
func (s *InviteCodeStore) Create(ctx context.Context, code string, householdID, createdBy int64, createdAt, expiresAt time.Time) (*model.InviteCode, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO invite_codes (code, household_id, created_by, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		code, householdID, createdBy, expiresAt.UTC(), createdAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert invite code: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert invite code: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *InviteCodeStore) GetByID(ctx context.Context, id int64) (*model.InviteCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteCodeCols+` FROM invite_codes WHERE id = ?`, id)
	c, err := scanInviteCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invite code: %w", err)
	}
	return c, nil
}

// GetLatestByCode returns the most recently created row for code, used or not.
func (s *InviteCodeStore) GetLatestByCode(ctx context.Context, code string) (*model.InviteCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inviteCodeCols+` FROM invite_codes WHERE code = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		code,
	)
	c, err := scanInviteCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invite code by code: %w", err)
	}
	return c, nil
}

// LatestActive returns the newest unused, unexpired code of a household.
func (s *InviteCodeStore) LatestActive(ctx context.Context, householdID int64, now time.Time) (*model.InviteCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inviteCodeCols+` FROM invite_codes
		 WHERE household_id = ? AND is_used = 0 AND expires_at > ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		householdID, now.UTC(),
	)
	c, err := scanInviteCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active invite code: %w", err)
	}
	return c, nil
}

// MarkUsed consumes the code in a single conditional update. It only matches
// while the code is unused and unexpired at now; a second redeemer, or a
// redeemer arriving after expiry, gets ErrNotModified.
func (s *InviteCodeStore) MarkUsed(ctx context.Context, id, usedBy int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invite_codes SET is_used = 1, used_by = ?, used_at = ?
		 WHERE id = ? AND is_used = 0 AND expires_at > ?`,
		usedBy, now.UTC(), id, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark invite code used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark invite code used: %w", ErrNotModified)
	}
	return nil
}

// DeleteExpired removes every code whose expiry is at or before now,
// regardless of whether it was used.
func (s *InviteCodeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invite_codes WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired invite codes: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
