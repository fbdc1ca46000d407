package onboarding

import (
	"errors"
	"fmt"

	"github.com/dukerupert/choreboard/internal/invite"
)

var (
	// ErrAuthFailed means no user could be resolved or signed in.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrAlreadyInHousehold means the user belongs to another household.
	ErrAlreadyInHousehold = errors.New("user already belongs to a household")

	// ErrInvalidState is returned when an attempt is submitted while busy or
	// after it succeeded.
	ErrInvalidState = errors.New("onboarding attempt cannot be submitted in its current state")
)

const (
	msgAuthFailed         = "認証に失敗しました"
	msgAlreadyInHousehold = "既に別の世帯に参加しています"
	msgCreateFailed       = "世帯の作成に失敗しました"
	msgJoinFailed         = "世帯への参加に失敗しました"
	msgInvalidState       = "処理中です。しばらくお待ちください"
)

// ValidationError reports a form field that failed validation. No request
// has been made when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InviteError means the invite code cannot be redeemed.
type InviteError struct {
	Reason invite.Reason
	Err    error
}

func (e *InviteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invite code %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invite code %s", e.Reason)
}

func (e *InviteError) Unwrap() error { return e.Err }

// Message is the user-facing text for the reason.
func (e *InviteError) Message() string {
	return e.Reason.Message()
}

// CreateMessage maps an error from the create path to user-facing text.
func CreateMessage(err error) string {
	return message(err, msgCreateFailed)
}

// JoinMessage maps an error from the join path to user-facing text.
func JoinMessage(err error) string {
	return message(err, msgJoinFailed)
}

func message(err error, fallback string) string {
	var ve *ValidationError
	var ie *InviteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ie):
		return ie.Message()
	case errors.Is(err, ErrAuthFailed):
		return msgAuthFailed
	case errors.Is(err, ErrAlreadyInHousehold):
		return msgAlreadyInHousehold
	case errors.Is(err, ErrInvalidState):
		return msgInvalidState
	default:
		return fallback
	}
}
