package models

import "time"

// RoomView is the snapshot pushed to clients on every room change and
// returned from guess handling. It merges the durable room with the live
// cache record.
type RoomView struct {
	ID             uint                   `json:"id"`
	Status         string                 `json:"status"`
	Mode           string                 `json:"mode"`
	PuzzleID       uint                   `json:"puzzle_id"`
	Participants   []uint                 `json:"participants"`
	Scores         map[string]int         `json:"scores"`
	FoundLetters   []string               `json:"found_letters"`
	GuessCounts    map[string]*GuessCount `json:"guess_counts"`
	LastActivityAt int64                  `json:"last_activity_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

func NewRoomView(room *Room, live *LiveGame) *RoomView {
	view := &RoomView{
		ID:           room.ID,
		Status:       room.Status,
		Mode:         room.Mode,
		PuzzleID:     room.PuzzleID,
		Participants: room.ParticipantIDs(),
		CompletedAt:  room.CompletedAt,
	}
	if live != nil {
		view.Scores = live.Scores
		view.FoundLetters = live.FoundLetters
		view.GuessCounts = live.GuessCounts
		view.LastActivityAt = live.LastActivityAt
	} else {
		view.Scores = room.ScoreMap()
		view.FoundLetters = room.Letters()
		view.LastActivityAt = room.LastActivityAt.UnixMilli()
	}
	return view
}
