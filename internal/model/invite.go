package model

import "time"

type InviteCode struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	HouseholdID int64      `json:"household_id"`
	CreatedBy   int64      `json:"created_by"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsUsed      bool       `json:"is_used"`
	UsedBy      *int64     `json:"used_by"`
	UsedAt      *time.Time `json:"used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ValidAt reports whether the code can still be redeemed at t.
// The expiry instant itself is already invalid.
func (c *InviteCode) ValidAt(t time.Time) bool {
	return !c.IsUsed && c.ExpiresAt.After(t)
}
