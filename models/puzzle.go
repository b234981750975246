package models

import (
	"encoding/json"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Puzzle holds a crossword grid. Content is loaded by an external pipeline;
// this service only reads it. Cells is a []string in row-major order holding
// the solution letter for playable squares and CellBlocked for the rest.
type Puzzle struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Title  string `json:"title" gorm:"not null"`
	Slug   string `json:"slug" gorm:"uniqueIndex"`
	Width  int    `json:"width" gorm:"not null"`
	Height int    `json:"height" gorm:"not null"`

	Cells datatypes.JSON `json:"cells" gorm:"type:jsonb;not null"`

	Timestamps
}

func (p *Puzzle) BeforeCreate(tx *gorm.DB) error {
	if p.Slug == "" {
		p.Slug = slug.Make(p.Title)
	}
	return nil
}

// Solution returns the row-major cell values.
func (p *Puzzle) Solution() []string {
	var cells []string
	if len(p.Cells) > 0 {
		_ = json.Unmarshal(p.Cells, &cells)
	}
	return cells
}

// CellIndex maps (row, col) onto the row-major index.
// ok is false when the coordinates fall outside the grid.
func (p *Puzzle) CellIndex(row, col int) (int, bool) {
	if row < 0 || row >= p.Height || col < 0 || col >= p.Width {
		return 0, false
	}
	return row*p.Width + col, true
}

// EmptyBoard returns a fresh found-letters array: every playable cell
// unsolved, blocked cells carried over from the solution.
func (p *Puzzle) EmptyBoard() []string {
	solution := p.Solution()
	board := make([]string, len(solution))
	for i, cell := range solution {
		if cell == CellBlocked {
			board[i] = CellBlocked
		} else {
			board[i] = CellUnsolved
		}
	}
	return board
}
