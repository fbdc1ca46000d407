package onboarding

import (
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/choreboard/internal/invite"
)

const maxNameLength = 50

// CreateForm is the input for starting a new household.
type CreateForm struct {
	UserName      string `json:"user_name"`
	HouseholdName string `json:"household_name"`
}

// JoinForm is the input for joining a household with an invite code.
type JoinForm struct {
	UserName   string `json:"user_name"`
	InviteCode string `json:"invite_code"`
}

// Normalize trims the names. Callers validate the result.
func (f CreateForm) Normalize() CreateForm {
	return CreateForm{
		UserName:      strings.TrimSpace(f.UserName),
		HouseholdName: strings.TrimSpace(f.HouseholdName),
	}
}

func (f CreateForm) Validate() error {
	if err := validateName("user_name", f.UserName, "お名前"); err != nil {
		return err
	}
	return validateName("household_name", f.HouseholdName, "世帯名")
}

// Normalize trims the name and uppercases the code.
func (f JoinForm) Normalize() JoinForm {
	return JoinForm{
		UserName:   strings.TrimSpace(f.UserName),
		InviteCode: invite.Normalize(f.InviteCode),
	}
}

func (f JoinForm) Validate() error {
	if err := validateName("user_name", f.UserName, "お名前"); err != nil {
		return err
	}
	if !invite.ValidFormat(f.InviteCode) {
		return &ValidationError{Field: "invite_code", Message: "招待コードは6文字の英数字で入力してください"}
	}
	return nil
}

func validateName(field, value, label string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return &ValidationError{Field: field, Message: label + "を入力してください"}
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		return &ValidationError{Field: field, Message: label + "は50文字以内で入力してください"}
	}
	return nil
}
