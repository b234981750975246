package models

import (
	"strings"
	"time"
)

// GuessCount tracks one player's running totals inside a live game.
type GuessCount struct {
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

// GuessDetail is one correct-guess event.
type GuessDetail struct {
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Letter    string `json:"letter"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// LiveGame is the ephemeral per-room record held in the cache while a game is
// playing. It is the fast path for guess handling; the durable Room wins on
// conflict at transaction commit time. Writers must re-read it immediately
// before mutating and write it back whole (last-writer-wins per record).
type LiveGame struct {
	LastActivityAt int64                    `json:"last_activity_at"` // epoch millis
	FoundLetters   []string                 `json:"found_letters"`
	Scores         map[string]int           `json:"scores"`
	GuessCounts    map[string]*GuessCount   `json:"guess_counts"`
	GuessDetails   map[string][]GuessDetail `json:"guess_details"`
}

// NewLiveGame builds a live record from the durable room state.
func NewLiveGame(room *Room) *LiveGame {
	lg := &LiveGame{
		LastActivityAt: room.LastActivityAt.UnixMilli(),
		FoundLetters:   room.Letters(),
		Scores:         room.ScoreMap(),
		GuessCounts:    map[string]*GuessCount{},
		GuessDetails:   map[string][]GuessDetail{},
	}
	lg.EnsureParticipants(room)
	return lg
}

// EnsureParticipants backfills missing per-player entries so the record is
// structurally complete for every current participant. Rooms can gain players
// after the record was first cached.
func (lg *LiveGame) EnsureParticipants(room *Room) {
	if lg.Scores == nil {
		lg.Scores = map[string]int{}
	}
	if lg.GuessCounts == nil {
		lg.GuessCounts = map[string]*GuessCount{}
	}
	if lg.GuessDetails == nil {
		lg.GuessDetails = map[string][]GuessDetail{}
	}
	roomScores := room.ScoreMap()
	for _, id := range room.ParticipantIDs() {
		key := PlayerKey(id)
		if _, ok := lg.Scores[key]; !ok {
			lg.Scores[key] = roomScores[key]
		}
		if _, ok := lg.GuessCounts[key]; !ok {
			lg.GuessCounts[key] = &GuessCount{}
		}
		if _, ok := lg.GuessDetails[key]; !ok {
			lg.GuessDetails[key] = []GuessDetail{}
		}
	}
	if len(lg.FoundLetters) == 0 {
		lg.FoundLetters = room.Letters()
	}
}

// Complete reports whether the record carries an entry for every participant.
func (lg *LiveGame) Complete(room *Room) bool {
	if lg.Scores == nil || lg.GuessCounts == nil || lg.GuessDetails == nil {
		return false
	}
	for _, id := range room.ParticipantIDs() {
		key := PlayerKey(id)
		if _, ok := lg.Scores[key]; !ok {
			return false
		}
		if _, ok := lg.GuessCounts[key]; !ok {
			return false
		}
		if _, ok := lg.GuessDetails[key]; !ok {
			return false
		}
	}
	return true
}

func (lg *LiveGame) Touch(now time.Time) {
	lg.LastActivityAt = now.UnixMilli()
}

// SolvedCount returns how many playable cells hold a letter.
func (lg *LiveGame) SolvedCount() (solved, playable int) {
	for _, cell := range lg.FoundLetters {
		if cell == CellBlocked {
			continue
		}
		playable++
		if cell != CellUnsolved {
			solved++
		}
	}
	return solved, playable
}

// BoardComplete reports whether no unsolved cell remains.
func (lg *LiveGame) BoardComplete() bool {
	for _, cell := range lg.FoundLetters {
		if cell == CellUnsolved {
			return false
		}
	}
	return true
}

// UnsolvedCells returns the indices of cells still showing CellUnsolved.
func (lg *LiveGame) UnsolvedCells() []int {
	var idx []int
	for i, cell := range lg.FoundLetters {
		if cell == CellUnsolved {
			idx = append(idx, i)
		}
	}
	return idx
}

// GuessOutcome classifies one submitted guess.
type GuessOutcome int

const (
	GuessInvalid GuessOutcome = iota // coordinates outside the grid; no mutation
	GuessAlreadySolved
	GuessCorrect
	GuessIncorrect
)

// ApplyGuess runs one guess against the live record and mutates it in place.
//
// A cell that is no longer CellUnsolved (including blocked cells) is dropped
// without touching counters or scores, regardless of whether the submitted
// letter would have been correct. Letter comparison is case-insensitive; the
// solution's casing is what gets persisted.
func (lg *LiveGame) ApplyGuess(puzzle *Puzzle, playerID uint, row, col int, letter string, correctPts, incorrectPts int, now time.Time) GuessOutcome {
	idx, ok := puzzle.CellIndex(row, col)
	if !ok || idx >= len(lg.FoundLetters) {
		return GuessInvalid
	}
	if lg.FoundLetters[idx] != CellUnsolved {
		return GuessAlreadySolved
	}

	key := PlayerKey(playerID)
	count, ok := lg.GuessCounts[key]
	if !ok {
		count = &GuessCount{}
		lg.GuessCounts[key] = count
	}

	solution := puzzle.Solution()[idx]
	if strings.EqualFold(letter, solution) {
		lg.FoundLetters[idx] = solution
		count.Correct++
		lg.Scores[key] += correctPts
		lg.GuessDetails[key] = append(lg.GuessDetails[key], GuessDetail{
			Row:       row,
			Col:       col,
			Letter:    solution,
			Timestamp: now.UnixMilli(),
		})
		lg.Touch(now)
		return GuessCorrect
	}

	count.Incorrect++
	lg.Scores[key] += incorrectPts
	lg.Touch(now)
	return GuessIncorrect
}
