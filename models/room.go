package models

import (
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

const (
	RoomStatusPending   = "pending"
	RoomStatusPlaying   = "playing"
	RoomStatusFinished  = "finished"
	RoomStatusCancelled = "cancelled"
)

const (
	ModeOneVsOne   = "1v1"
	ModeTwoVsTwo   = "2v2"
	ModeFreeForAll = "free_for_all"
	ModeTimeTrial  = "time_trial"
)

// Board cell markers. A cell holds either a found letter, CellUnsolved, or
// CellBlocked for squares that are not part of any word.
const (
	CellUnsolved = "*"
	CellBlocked  = "."
)

// Room is the durable record of one multiplayer crossword session.
// Participants, scores and the board are jsonb columns mirrored into the live
// game cache while the room is playing; the row is authoritative on conflict.
type Room struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Status string `json:"status" gorm:"type:varchar(16);default:'pending';index;check:status IN ('pending','playing','finished','cancelled')"`
	Mode   string `json:"mode" gorm:"type:varchar(16);default:'1v1'"`

	PuzzleID uint    `json:"puzzle_id" gorm:"index;not null"`
	Puzzle   *Puzzle `json:"puzzle,omitempty" gorm:"foreignKey:PuzzleID"`

	// Ordered player ids; join order decides 2v2 team split.
	Participants datatypes.JSON `json:"participants" gorm:"type:jsonb"`
	// map[playerKey]int — one entry per current participant.
	Scores datatypes.JSON `json:"scores" gorm:"type:jsonb"`
	// []string sized to the puzzle's cell count.
	FoundLetters datatypes.JSON `json:"found_letters" gorm:"type:jsonb"`

	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	Timestamps
}

// PlayerKey converts a player id into the string key used in the score and
// counter maps (JSON object keys are always strings).
func PlayerKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (r *Room) ParticipantIDs() []uint {
	var ids []uint
	if len(r.Participants) == 0 {
		return ids
	}
	_ = json.Unmarshal(r.Participants, &ids)
	return ids
}

func (r *Room) SetParticipantIDs(ids []uint) {
	raw, _ := json.Marshal(ids)
	r.Participants = datatypes.JSON(raw)
}

func (r *Room) ScoreMap() map[string]int {
	scores := map[string]int{}
	if len(r.Scores) > 0 {
		_ = json.Unmarshal(r.Scores, &scores)
	}
	return scores
}

func (r *Room) SetScoreMap(scores map[string]int) {
	raw, _ := json.Marshal(scores)
	r.Scores = datatypes.JSON(raw)
}

func (r *Room) Letters() []string {
	var letters []string
	if len(r.FoundLetters) > 0 {
		_ = json.Unmarshal(r.FoundLetters, &letters)
	}
	return letters
}

func (r *Room) SetLetters(letters []string) {
	raw, _ := json.Marshal(letters)
	r.FoundLetters = datatypes.JSON(raw)
}

// HasParticipant reports whether the player is part of this room.
func (r *Room) HasParticipant(playerID uint) bool {
	for _, id := range r.ParticipantIDs() {
		if id == playerID {
			return true
		}
	}
	return false
}

// Capacity returns how many players the room's mode seats, or 0 for
// free-for-all rooms which have no fixed quorum.
func (r *Room) Capacity() int {
	switch r.Mode {
	case ModeOneVsOne:
		return 2
	case ModeTwoVsTwo:
		return 4
	case ModeTimeTrial:
		return 1
	default:
		return 0
	}
}
