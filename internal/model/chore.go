package model

import "time"

type Chore struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	Name        string    `json:"name"`
	Points      int       `json:"points"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChoreLog records one completion. Points is a snapshot of the chore's points
// at the time it was logged.
type ChoreLog struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	ChoreID     int64     `json:"chore_id"`
	UserID      int64     `json:"user_id"`
	Points      int       `json:"points"`
	Note        string    `json:"note"`
	LoggedAt    time.Time `json:"logged_at"`
}

type Ranking struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
	LogCount    int    `json:"log_count"`
}
