package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crossword-game-system/cache"
	"crossword-game-system/config"
	"crossword-game-system/metrics"
	"crossword-game-system/models"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPuzzleNotFound = errors.New("puzzle not found")
	ErrRoomNotPlaying = errors.New("room is not playing")
	ErrNotParticipant = errors.New("player is not in this room")
	ErrRoomFull       = errors.New("room is full")
	// Validation failures leave state exactly as it was.
	ErrInvalidCell  = errors.New("cell coordinates outside the puzzle grid")
	ErrInvalidGuess = errors.New("guess must be a single letter")
)

// LiveStore is the slice of the cache the coordinator needs.
type LiveStore interface {
	Get(ctx context.Context, roomID uint) (*models.LiveGame, error)
	Put(ctx context.Context, roomID uint, lg *models.LiveGame) error
	Delete(ctx context.Context, roomID uint) error
}

// RevealScheduler arms and disarms the per-room auto-reveal job. Implemented
// by workers.RevealWorker; wired in main after both sides exist.
type RevealScheduler interface {
	Schedule(roomID uint, lastActivityAt int64)
	Cancel(roomID uint)
}

// RoomService orchestrates guess application, completion detection,
// persistence transactions and cache synchronization for game rooms.
type RoomService struct {
	DB      *gorm.DB
	Live    LiveStore
	Fanout  cache.Fanout
	Ratings *RatingService
	Cfg     *config.Config

	// Reveals is nil in tests; every call site guards.
	Reveals RevealScheduler
}

func NewRoomService(db *gorm.DB, live LiveStore, fanout cache.Fanout, ratings *RatingService, cfg *config.Config) *RoomService {
	return &RoomService{DB: db, Live: live, Fanout: fanout, Ratings: ratings, Cfg: cfg}
}

// RoomWithPuzzle loads a room and its puzzle, mapping gorm's not-found error
// onto the service sentinel.
func (s *RoomService) RoomWithPuzzle(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	err := s.DB.WithContext(ctx).Preload("Puzzle").First(&room, roomID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %d: %w", roomID, err)
	}
	if room.Puzzle == nil {
		return nil, ErrPuzzleNotFound
	}
	return &room, nil
}

// PlayingRooms lists rooms currently in play, used to re-arm reveal jobs
// after a restart.
func (s *RoomService) PlayingRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.DB.WithContext(ctx).
		Where("status = ?", models.RoomStatusPlaying).Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list playing rooms: %w", err)
	}
	return rooms, nil
}

// loadLive returns the cached record for a room, lazily re-initializing it
// from the durable row when absent or structurally incomplete.
func (s *RoomService) loadLive(ctx context.Context, room *models.Room) (*models.LiveGame, error) {
	live, err := s.Live.Get(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return models.NewLiveGame(room), nil
	}
	if !live.Complete(room) {
		live.EnsureParticipants(room)
	}
	return live, nil
}

// ApplyGuess runs one player guess through the live cache and the durable
// store and returns the refreshed room view.
func (s *RoomService) ApplyGuess(ctx context.Context, roomID, playerID uint, row, col int, letter string) (*models.RoomView, error) {
	timer := prometheus.NewTimer(metrics.GuessDurationSeconds)
	defer timer.ObserveDuration()

	if !validGuessLetter(letter) {
		return nil, ErrInvalidGuess
	}

	room, err := s.RoomWithPuzzle(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusPlaying {
		return nil, ErrRoomNotPlaying
	}
	if !room.HasParticipant(playerID) {
		return nil, ErrNotParticipant
	}

	live, err := s.loadLive(ctx, room)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	outcome := live.ApplyGuess(room.Puzzle, playerID, row, col, letter,
		s.Cfg.CorrectGuessPoints, s.Cfg.IncorrectGuessPoints, now)

	switch outcome {
	case models.GuessInvalid:
		metrics.GuessesTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCell
	case models.GuessAlreadySolved:
		// Someone got there first (or the cell is blocked). No counters, no
		// score, no notification — just hand back the current view.
		metrics.GuessesTotal.WithLabelValues("duplicate").Inc()
		return models.NewRoomView(room, live), nil
	case models.GuessCorrect:
		metrics.GuessesTotal.WithLabelValues("correct").Inc()
	case models.GuessIncorrect:
		metrics.GuessesTotal.WithLabelValues("incorrect").Inc()
	}

	if live.BoardComplete() {
		if err := s.finalizeSolvedRoom(ctx, room, live); err != nil {
			return nil, err
		}
	} else {
		if err := s.persistProgress(ctx, room, live); err != nil {
			return nil, err
		}
		if s.Reveals != nil {
			s.Reveals.Schedule(room.ID, live.LastActivityAt)
		}
	}

	view := models.NewRoomView(room, live)
	if err := s.Fanout.NotifyRoom(ctx, room.ID, cache.EventRoom, view); err != nil {
		log.Printf("⚠️ room %d: fanout failed after guess: %v", room.ID, err)
	}
	return view, nil
}

// persistProgress writes the incremental mutation into the durable row under
// a row lock, then rewrites the cache record.
func (s *RoomService) persistProgress(ctx context.Context, room *models.Room, live *models.LiveGame) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, room.ID).Error; err != nil {
			return err
		}
		if locked.Status != models.RoomStatusPlaying {
			// Finished or cancelled underneath us; the finalizer already
			// merged everything worth keeping.
			return nil
		}
		locked.SetLetters(live.FoundLetters)
		locked.SetScoreMap(live.Scores)
		locked.LastActivityAt = time.UnixMilli(live.LastActivityAt)
		if err := tx.Save(&locked).Error; err != nil {
			return err
		}
		room.Status = locked.Status
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist room %d progress: %w", room.ID, err)
	}
	return s.Live.Put(ctx, room.ID, live)
}

// finalizeSolvedRoom runs the completion critical section: re-read and lock
// the row, merge the cached mutations, mark finished and run the game-end
// procedure, all before commit.
func (s *RoomService) finalizeSolvedRoom(ctx context.Context, room *models.Room, live *models.LiveGame) error {
	var finalized *models.Room
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, room.ID).Error; err != nil {
			return err
		}
		if locked.Status != models.RoomStatusPlaying {
			return nil // a concurrent actor finished it first
		}
		if err := s.OnGameEnd(tx, &locked, live, nil); err != nil {
			return err
		}
		finalized = &locked
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finalize room %d: %w", room.ID, err)
	}
	if finalized == nil {
		return nil
	}
	room.Status = finalized.Status
	room.CompletedAt = finalized.CompletedAt
	// Final cache write so late readers see the solved board until the TTL
	// reaps it.
	if err := s.Live.Put(ctx, room.ID, live); err != nil {
		log.Printf("⚠️ room %d: final cache write failed: %v", room.ID, err)
	}
	s.archiveAsync(models.NewRoomView(room, live))
	return nil
}

// CommitReveal is the durable half of a worker auto-reveal: merge the
// mutated live record into the locked row, finalizing the game when the
// revealed cell was the last one. Implements the worker's coordinator
// dependency.
func (s *RoomService) CommitReveal(ctx context.Context, roomID uint, live *models.LiveGame, finished bool) error {
	var finalized *models.Room
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, roomID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrRoomNotFound
			}
			return err
		}
		if locked.Status != models.RoomStatusPlaying {
			return nil
		}
		if finished {
			if err := s.OnGameEnd(tx, &locked, live, nil); err != nil {
				return err
			}
			finalized = &locked
			return nil
		}
		locked.SetLetters(live.FoundLetters)
		locked.SetScoreMap(live.Scores)
		locked.LastActivityAt = time.UnixMilli(live.LastActivityAt)
		return tx.Save(&locked).Error
	})
	if err != nil {
		return err
	}
	if finalized != nil && finalized.Status == models.RoomStatusFinished {
		s.archiveAsync(models.NewRoomView(finalized, live))
	}
	return nil
}

func validGuessLetter(letter string) bool {
	r, size := utf8.DecodeRuneInString(letter)
	return size > 0 && size == len(letter) && unicode.IsLetter(r)
}

// ---- Fiber surface ----

type guessRequest struct {
	PlayerID uint   `json:"player_id"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Letter   string `json:"letter"`
}

func (s *RoomService) SubmitGuess(c *fiber.Ctx) error {
	roomID, err := c.ParamsInt("id")
	if err != nil || roomID <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid room id"})
	}

	var req guessRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	view, err := s.ApplyGuess(c.Context(), uint(roomID), req.PlayerID, req.Row, req.Col, req.Letter)
	switch {
	case err == nil:
		return c.JSON(view)
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrPuzzleNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrInvalidCell), errors.Is(err, ErrInvalidGuess):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrRoomNotPlaying):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotParticipant):
		return c.Status(403).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("❌ guess failed for room %d: %v", roomID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to apply guess"})
	}
}

func (s *RoomService) GetRoom(c *fiber.Ctx) error {
	roomID, err := c.ParamsInt("id")
	if err != nil || roomID <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid room id"})
	}
	room, err := s.RoomWithPuzzle(c.Context(), uint(roomID))
	if errors.Is(err, ErrRoomNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load room"})
	}
	live, err := s.loadLive(c.Context(), room)
	if err != nil {
		log.Printf("⚠️ room %d: cache read failed, serving durable state: %v", room.ID, err)
		live = nil
	}
	return c.JSON(models.NewRoomView(room, live))
}
