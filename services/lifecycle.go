package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crossword-game-system/cache"
	"crossword-game-system/models"
)

// CreateRoom opens a room on a puzzle. Solo time trials start immediately;
// everything else waits in pending for players to join.
func (s *RoomService) CreateRoom(c *fiber.Ctx) error {
	var req struct {
		PuzzleID  uint   `json:"puzzle_id"`
		Mode      string `json:"mode"`
		CreatorID uint   `json:"creator_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	switch req.Mode {
	case models.ModeOneVsOne, models.ModeTwoVsTwo, models.ModeFreeForAll, models.ModeTimeTrial:
	default:
		return c.Status(400).JSON(fiber.Map{"error": "unknown game mode"})
	}

	var puzzle models.Puzzle
	if err := s.DB.First(&puzzle, req.PuzzleID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "puzzle not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load puzzle"})
	}
	var creator models.User
	if err := s.DB.First(&creator, req.CreatorID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "creator not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load creator"})
	}

	room := models.Room{
		Status:         models.RoomStatusPending,
		Mode:           req.Mode,
		PuzzleID:       puzzle.ID,
		LastActivityAt: time.Now(),
	}
	room.SetParticipantIDs([]uint{creator.ID})
	room.SetScoreMap(map[string]int{models.PlayerKey(creator.ID): 0})
	room.SetLetters(puzzle.EmptyBoard())

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		if _, err := s.ensureStats(tx, room.ID, creator.ID); err != nil {
			return err
		}
		if room.Capacity() == 1 {
			room.Status = models.RoomStatusPlaying
			return tx.Save(&room).Error
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ failed to create room: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create room"})
	}

	if room.Status == models.RoomStatusPlaying {
		s.armRoom(&room)
	}
	return c.Status(201).JSON(models.NewRoomView(&room, nil))
}

// JoinRoom appends a player to a pending room; the room flips to playing
// once the mode's quorum is seated.
func (s *RoomService) JoinRoom(c *fiber.Ctx) error {
	roomID, err := c.ParamsInt("id")
	if err != nil || roomID <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid room id"})
	}
	var req struct {
		PlayerID uint `json:"player_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	var user models.User
	if err := s.DB.First(&user, req.PlayerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load user"})
	}

	var joined models.Room
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, roomID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrRoomNotFound
			}
			return err
		}
		if room.Status != models.RoomStatusPending {
			return ErrRoomNotPlaying
		}
		if room.HasParticipant(user.ID) {
			joined = room
			return nil
		}
		ids := room.ParticipantIDs()
		seats := room.Capacity()
		if seats > 0 && len(ids) >= seats {
			return ErrRoomFull
		}
		ids = append(ids, user.ID)
		room.SetParticipantIDs(ids)
		scores := room.ScoreMap()
		scores[models.PlayerKey(user.ID)] = 0
		room.SetScoreMap(scores)
		if _, err := s.ensureStats(tx, room.ID, user.ID); err != nil {
			return err
		}
		if seats > 0 && len(ids) == seats {
			room.Status = models.RoomStatusPlaying
			room.LastActivityAt = time.Now()
		}
		if err := tx.Save(&room).Error; err != nil {
			return err
		}
		joined = room
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrRoomNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	case errors.Is(err, ErrRoomNotPlaying):
		return c.Status(409).JSON(fiber.Map{"error": "room is not joinable"})
	case errors.Is(err, ErrRoomFull):
		return c.Status(403).JSON(fiber.Map{"error": "room is full"})
	default:
		log.Printf("❌ failed to join room %d: %v", roomID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to join room"})
	}

	if joined.Status == models.RoomStatusPlaying {
		s.armRoom(&joined)
	}
	view := models.NewRoomView(&joined, nil)
	if err := s.Fanout.NotifyRoom(c.Context(), joined.ID, cache.EventRoom, view); err != nil {
		log.Printf("⚠️ room %d: fanout after join failed: %v", joined.ID, err)
	}
	return c.JSON(view)
}

// StartRoom begins a free-for-all game once at least two players are seated.
// Fixed-quorum modes start automatically and don't need it.
func (s *RoomService) StartRoom(c *fiber.Ctx) error {
	roomID, err := c.ParamsInt("id")
	if err != nil || roomID <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid room id"})
	}

	var started models.Room
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, roomID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrRoomNotFound
			}
			return err
		}
		if room.Status != models.RoomStatusPending {
			return ErrRoomNotPlaying
		}
		if room.Mode != models.ModeFreeForAll {
			return fmt.Errorf("mode %s starts automatically", room.Mode)
		}
		if len(room.ParticipantIDs()) < 2 {
			return fmt.Errorf("need at least two players")
		}
		room.Status = models.RoomStatusPlaying
		room.LastActivityAt = time.Now()
		if err := tx.Save(&room).Error; err != nil {
			return err
		}
		started = room
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrRoomNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	case errors.Is(err, ErrRoomNotPlaying):
		return c.Status(409).JSON(fiber.Map{"error": "room already started"})
	default:
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	s.armRoom(&started)
	view := models.NewRoomView(&started, nil)
	if err := s.Fanout.NotifyRoom(c.Context(), started.ID, cache.EventRoom, view); err != nil {
		log.Printf("⚠️ room %d: fanout after start failed: %v", started.ID, err)
	}
	return c.JSON(view)
}

// LeaveRoom removes a player from a room that has not started yet. Seats in
// playing rooms are surrendered through Forfeit instead. A pending room whose
// last player walks out is deleted.
func (s *RoomService) LeaveRoom(c *fiber.Ctx) error {
	roomID, err := c.ParamsInt("id")
	if err != nil || roomID <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid room id"})
	}
	var req struct {
		PlayerID uint `json:"player_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	var left models.Room
	deleted := false
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, roomID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrRoomNotFound
			}
			return err
		}
		if room.Status != models.RoomStatusPending {
			return ErrRoomNotPlaying
		}
		if !room.HasParticipant(req.PlayerID) {
			return ErrNotParticipant
		}

		ids := room.ParticipantIDs()
		remaining := make([]uint, 0, len(ids)-1)
		for _, id := range ids {
			if id != req.PlayerID {
				remaining = append(remaining, id)
			}
		}
		if err := tx.Where("room_id = ? AND user_id = ?", room.ID, req.PlayerID).
			Delete(&models.GameStats{}).Error; err != nil {
			return err
		}
		if len(remaining) == 0 {
			deleted = true
			return tx.Unscoped().Delete(&room).Error
		}
		room.SetParticipantIDs(remaining)
		scores := room.ScoreMap()
		delete(scores, models.PlayerKey(req.PlayerID))
		room.SetScoreMap(scores)
		if err := tx.Save(&room).Error; err != nil {
			return err
		}
		left = room
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrRoomNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	case errors.Is(err, ErrRoomNotPlaying):
		return c.Status(409).JSON(fiber.Map{"error": "room already started"})
	case errors.Is(err, ErrNotParticipant):
		return c.Status(403).JSON(fiber.Map{"error": "player is not in this room"})
	default:
		log.Printf("❌ failed to leave room %d: %v", roomID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to leave room"})
	}

	if deleted {
		return c.SendStatus(204)
	}
	view := models.NewRoomView(&left, nil)
	if err := s.Fanout.NotifyRoom(c.Context(), left.ID, cache.EventRoom, view); err != nil {
		log.Printf("⚠️ room %d: fanout after leave failed: %v", left.ID, err)
	}
	return c.JSON(view)
}

// armRoom seeds the live cache and schedules the first auto-reveal.
func (s *RoomService) armRoom(room *models.Room) {
	live := models.NewLiveGame(room)
	if err := s.Live.Put(context.Background(), room.ID, live); err != nil {
		log.Printf("⚠️ room %d: failed to seed live cache: %v", room.ID, err)
	}
	if s.Reveals != nil {
		s.Reveals.Schedule(room.ID, live.LastActivityAt)
	}
}

// GetUserStats returns a player's per-room stats history.
func (s *RoomService) GetUserStats(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid user id"})
	}
	var user models.User
	if err := s.DB.First(&user, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "failed to load user"})
	}
	var stats []models.GameStats
	if err := s.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").Limit(100).Find(&stats).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load stats"})
	}
	return c.JSON(fiber.Map{"user": user, "stats": stats})
}

// Leaderboard returns the top players by rating.
func (s *RoomService) Leaderboard(c *fiber.Ctx) error {
	var users []models.User
	if err := s.DB.Order("rating DESC").Limit(s.Cfg.LeaderboardSize).
		Find(&users).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load leaderboard"})
	}
	return c.JSON(users)
}
