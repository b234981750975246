package models

// User is the rating subject. Profile data lives in the profile service;
// this service owns only the rating and the streak/game counters the
// rating engine reads.
type User struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Username string `json:"username" gorm:"uniqueIndex;not null"`

	Rating      int `json:"rating" gorm:"default:1200;index"`
	GamesPlayed int `json:"games_played" gorm:"default:0"`
	WinStreak   int `json:"win_streak" gorm:"default:0"`

	Timestamps
}
