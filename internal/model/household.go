package model

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	// DefaultSettlementDay is the day of month a household's point period resets.
	DefaultSettlementDay = 25
)

type Household struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SettlementDay int       `json:"settlement_day"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type HouseholdMember struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// MemberProfile is a membership joined with the member's display name.
type MemberProfile struct {
	HouseholdMember
	DisplayName string `json:"display_name"`
}
