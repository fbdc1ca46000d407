package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/model"
)

const (
	minPasswordLength = 8
	maxNameLength     = 50
)

// Identities performs the identity half of an upgrade. *auth.Service
// satisfies it.
type Identities interface {
	UpdateIdentity(ctx context.Context, userID int64, email, password string) (*model.Identity, error)
}

type Users interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	UpdateDisplayName(ctx context.Context, id int64, name string) (*model.User, error)
}

// Upgrader turns an anonymous user into an email account without changing
// the user id, so memberships and chore logs stay attached.
type Upgrader struct {
	identities Identities
	users      Users
	logger     *slog.Logger
}

func NewUpgrader(ids Identities, us Users, logger *slog.Logger) *Upgrader {
	return &Upgrader{
		identities: ids,
		users:      us,
		logger:     logger.With("component", "account"),
	}
}

// ValidateCredentials checks the form fields of an email account.
func ValidateCredentials(email, password, displayName string) error {
	addr, err := mail.ParseAddress(email)
	if email == "" || err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "有効なメールアドレスを入力してください"}
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return &ValidationError{Field: "password", Message: "パスワードは8文字以上で入力してください"}
	}
	return validateName(displayName)
}

func validateName(displayName string) error {
	if displayName == "" {
		return &ValidationError{Field: "display_name", Message: "表示名を入力してください"}
	}
	if utf8.RuneCountInString(displayName) > maxNameLength {
		return &ValidationError{Field: "display_name", Message: "表示名は50文字以内で入力してください"}
	}
	return nil
}

// Upgrade attaches email and password to the signed-in anonymous user, then
// saves the display name. If only the second step fails the result is a
// *PartialUpgradeError.
func (u *Upgrader) Upgrade(ctx context.Context, sess auth.Session, email, password, displayName string) (*auth.Principal, error) {
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)
	if err := ValidateCredentials(email, password, displayName); err != nil {
		return nil, err
	}

	p, err := u.precondition(ctx, sess)
	if err != nil {
		return nil, err
	}
	userID := p.User.ID
	logger := u.logger.With("user_id", userID)

	if _, err := u.identities.UpdateIdentity(ctx, userID, email, password); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotAnonymous):
			return nil, ErrNotAnonymous
		case errors.Is(err, auth.ErrUserNotFound):
			return nil, ErrUserNotFound
		case errors.Is(err, auth.ErrEmailTaken):
			return nil, err
		}
		return nil, fmt.Errorf("update identity: %w", err)
	}

	if _, err := u.users.UpdateDisplayName(ctx, userID, displayName); err != nil {
		logger.Error("display name update after upgrade", "error", err)
		return nil, &PartialUpgradeError{UserID: userID, Err: err}
	}

	logger.Info("account upgraded")
	return u.refresh(ctx, sess, p), nil
}

// FinishProfile retries the display name step of an upgrade that returned a
// *PartialUpgradeError.
func (u *Upgrader) FinishProfile(ctx context.Context, sess auth.Session, displayName string) (*auth.Principal, error) {
	displayName = strings.TrimSpace(displayName)
	if err := validateName(displayName); err != nil {
		return nil, err
	}

	p, err := sess.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	if p == nil {
		return nil, ErrUserNotFound
	}

	if _, err := u.users.UpdateDisplayName(ctx, p.User.ID, displayName); err != nil {
		return nil, &PartialUpgradeError{UserID: p.User.ID, Err: err}
	}
	return u.refresh(ctx, sess, p), nil
}

func (u *Upgrader) precondition(ctx context.Context, sess auth.Session) (*auth.Principal, error) {
	p, err := sess.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	if p == nil {
		return nil, ErrUserNotFound
	}

	user, err := u.users.GetByID(ctx, p.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !p.Identity.IsAnonymous {
		return nil, ErrNotAnonymous
	}
	return p, nil
}

func (u *Upgrader) refresh(ctx context.Context, sess auth.Session, prev *auth.Principal) *auth.Principal {
	p, err := sess.Refresh(ctx)
	if err != nil {
		u.logger.Warn("refresh session", "user_id", prev.User.ID, "error", err)
		return prev
	}
	return p
}
