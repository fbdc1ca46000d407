package account

import (
	"errors"
	"fmt"

	"github.com/dukerupert/choreboard/internal/auth"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNotAnonymous = errors.New("user is not anonymous")
)

// ValidationError reports an upgrade form field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PartialUpgradeError means the identity now has an email and password but
// the display name could not be saved. FinishProfile completes it.
type PartialUpgradeError struct {
	UserID int64
	Err    error
}

func (e *PartialUpgradeError) Error() string {
	return fmt.Sprintf("account upgraded but display name not saved for user %d: %v", e.UserID, e.Err)
}

func (e *PartialUpgradeError) Unwrap() error { return e.Err }

// Message maps an upgrade error to user-facing text.
func Message(err error) string {
	var ve *ValidationError
	var pe *PartialUpgradeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &pe):
		return "アカウントは登録されましたが、表示名を保存できませんでした"
	case errors.Is(err, ErrUserNotFound):
		return "ユーザーが見つかりません"
	case errors.Is(err, ErrNotAnonymous):
		return "匿名ユーザーではありません"
	case errors.Is(err, auth.ErrEmailTaken):
		return "このメールアドレスは既に登録されています"
	default:
		return "アカウントの登録に失敗しました"
	}
}
