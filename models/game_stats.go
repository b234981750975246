package models

import (
	"time"

	"gorm.io/datatypes"
)

// GameStats is one durable row per (room, player): guess totals, the correct
// guess event list copied from the live cache at game end, and the rating
// snapshot/delta written by the rating engine.
type GameStats struct {
	ID     string `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	RoomID uint   `json:"room_id" gorm:"uniqueIndex:idx_stats_room_user;not null"`
	UserID uint   `json:"user_id" gorm:"uniqueIndex:idx_stats_room_user;index;not null"`

	CorrectGuesses   int `json:"correct_guesses" gorm:"default:0"`
	IncorrectGuesses int `json:"incorrect_guesses" gorm:"default:0"`

	// []GuessDetail, finalized from the live cache when the game ends.
	GuessDetails datatypes.JSON `json:"guess_details" gorm:"type:jsonb"`

	IsWinner    bool `json:"is_winner" gorm:"default:false"`
	WinStreak   int  `json:"win_streak" gorm:"default:0"`
	Rating      int  `json:"rating" gorm:"default:0"` // rating at game time
	RatingDelta int  `json:"rating_delta" gorm:"default:0"`

	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Timestamps
}
