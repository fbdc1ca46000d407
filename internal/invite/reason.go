package invite

import "github.com/dukerupert/choreboard/internal/model"

// Reason explains why a code cannot be redeemed.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "not_found"
	ReasonUsed     Reason = "used"
	ReasonExpired  Reason = "expired"
	ReasonError    Reason = "error"
)

var messages = map[Reason]string{
	ReasonExpired:  "招待コードの有効期限が切れています",
	ReasonUsed:     "この招待コードは既に使用されています",
	ReasonNotFound: "招待コードが見つかりません",
	ReasonError:    "招待コードの確認に失敗しました",
}

// Message is the user-facing text for r. ReasonNone has none.
func (r Reason) Message() string {
	return messages[r]
}

// Result is the outcome of validating or redeeming a code. Code is set
// whenever a row was found; Err only for ReasonError.
type Result struct {
	Valid  bool
	Reason Reason
	Code   *model.InviteCode
	Err    error
}

func (r Result) Message() string {
	return r.Reason.Message()
}

func (r Result) label() string {
	if r.Valid {
		return "ok"
	}
	return string(r.Reason)
}
