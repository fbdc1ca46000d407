package chore

import "github.com/dukerupert/choreboard/internal/model"

// Defaults is the starter chore list seeded into every new household.
func Defaults() []model.Chore {
	return []model.Chore{
		{Name: "料理", Points: 3, SortOrder: 1},
		{Name: "皿洗い", Points: 2, SortOrder: 2},
		{Name: "洗濯", Points: 2, SortOrder: 3},
		{Name: "洗濯物たたみ", Points: 1, SortOrder: 4},
		{Name: "掃除機がけ", Points: 2, SortOrder: 5},
		{Name: "風呂掃除", Points: 2, SortOrder: 6},
		{Name: "トイレ掃除", Points: 2, SortOrder: 7},
		{Name: "ゴミ出し", Points: 1, SortOrder: 8},
		{Name: "買い物", Points: 2, SortOrder: 9},
	}
}
