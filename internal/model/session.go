package model

import "time"

// AnonymousDisplayName is the placeholder name given to users created by
// anonymous sign-in, until they enter a real one.
const AnonymousDisplayName = "匿名ユーザー"

type User struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPlaceholderName reports whether the user still carries the anonymous name.
func (u *User) HasPlaceholderName() bool {
	return u.DisplayName == AnonymousDisplayName
}

// Identity is the authentication side of a user. It is mutated in place when
// an anonymous user attaches an email and password, so UserID never changes.
type Identity struct {
	UserID           int64      `json:"user_id"`
	IsAnonymous      bool       `json:"is_anonymous"`
	Email            *string    `json:"email"`
	PasswordHash     string     `json:"-"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type EmailConfirmation struct {
	ID          int64      `json:"id"`
	Token       string     `json:"token"`
	UserID      int64      `json:"user_id"`
	Email       string     `json:"email"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}
