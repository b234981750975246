package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crossword-game-system/cache"
	"crossword-game-system/metrics"
	"crossword-game-system/models"
	"crossword-game-system/utils"
)

// OnGameEnd finalizes a room. Always called inside a durable transaction
// holding a row lock on the room.
//
// Winners are the participants with the maximum score, unless forfeiterID is
// set, in which case every non-forfeiting participant wins and the forfeiter
// takes the configured penalty (skipped for solo time trials). Multiplayer
// rooms that never saw a single correct guess are deleted instead of
// finalized.
func (s *RoomService) OnGameEnd(tx *gorm.DB, room *models.Room, live *models.LiveGame, forfeiterID *uint) error {
	participants := room.ParticipantIDs()
	ctx := context.Background()

	if s.unplayedMultiplayer(room, live) {
		return s.cancelUnplayedRoom(tx, room)
	}

	now := time.Now()

	// The penalty never changes who wins: on a forfeit the winners are
	// everyone else, regardless of score.
	if forfeiterID != nil && room.Mode != models.ModeTimeTrial {
		key := models.PlayerKey(*forfeiterID)
		live.Scores[key] += s.Cfg.ForfeitPenalty
	}

	winners := determineWinners(participants, live.Scores, forfeiterID, room.Mode)

	room.SetLetters(live.FoundLetters)
	room.SetScoreMap(live.Scores)
	room.Status = models.RoomStatusFinished
	room.CompletedAt = &now
	room.LastActivityAt = now

	for _, pid := range participants {
		key := models.PlayerKey(pid)

		var user models.User
		if err := tx.First(&user, pid).Error; err != nil {
			return fmt.Errorf("failed to load user %d at game end: %w", pid, err)
		}
		if winners[pid] {
			user.WinStreak++
		} else {
			user.WinStreak = 0
		}

		stats, err := s.ensureStats(tx, room.ID, pid)
		if err != nil {
			return err
		}
		if count := live.GuessCounts[key]; count != nil {
			stats.CorrectGuesses = count.Correct
			stats.IncorrectGuesses = count.Incorrect
		}
		details, _ := json.Marshal(live.GuessDetails[key])
		stats.GuessDetails = details
		stats.IsWinner = winners[pid]
		stats.WinStreak = user.WinStreak
		stats.Rating = user.Rating
		stats.FinishedAt = &now

		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("failed to save user %d at game end: %w", pid, err)
		}
		if err := tx.Save(stats).Error; err != nil {
			return fmt.Errorf("failed to save stats for user %d: %w", pid, err)
		}
	}

	if err := tx.Save(room).Error; err != nil {
		return fmt.Errorf("failed to finalize room %d: %w", room.ID, err)
	}

	newRatings, err := s.Ratings.UpdateRatings(tx, room)
	if err != nil {
		return err
	}

	// Rating deltas, games-played bumps and the per-user notifications.
	for _, pid := range participants {
		var stats models.GameStats
		if err := tx.Where("room_id = ? AND user_id = ?", room.ID, pid).
			First(&stats).Error; err != nil {
			return fmt.Errorf("failed to reload stats for user %d: %w", pid, err)
		}
		delta := newRatings[pid] - stats.Rating
		if err := tx.Model(&stats).Update("rating_delta", delta).Error; err != nil {
			return fmt.Errorf("failed to record rating delta for user %d: %w", pid, err)
		}
		if err := tx.Model(&models.User{}).Where("id = ?", pid).
			Update("games_played", gorm.Expr("games_played + 1")).Error; err != nil {
			return fmt.Errorf("failed to bump games played for user %d: %w", pid, err)
		}
		if err := s.Fanout.NotifyUsers(ctx, []uint{pid}, cache.EventRatingChange, fiber.Map{
			"user_id": pid,
			"room_id": room.ID,
			"rating":  newRatings[pid],
			"delta":   delta,
		}); err != nil {
			log.Printf("⚠️ room %d: rating_change fanout failed for user %d: %v", room.ID, pid, err)
		}
	}

	if forfeiterID != nil && room.Mode != models.ModeTimeTrial {
		if err := s.Fanout.NotifyRoom(ctx, room.ID, cache.EventGameForfeited, fiber.Map{
			"room_id":      room.ID,
			"forfeited_by": *forfeiterID,
		}); err != nil {
			log.Printf("⚠️ room %d: game_forfeited fanout failed: %v", room.ID, err)
		}
	}

	if s.Reveals != nil {
		s.Reveals.Cancel(room.ID)
	}
	metrics.GamesFinishedTotal.Inc()
	return nil
}

// unplayedMultiplayer reports whether this is a multiplayer room where no
// participant ever found a letter.
func (s *RoomService) unplayedMultiplayer(room *models.Room, live *models.LiveGame) bool {
	if len(room.ParticipantIDs()) < 2 {
		return false
	}
	for _, count := range live.GuessCounts {
		if count != nil && count.Correct > 0 {
			return false
		}
	}
	return true
}

// cancelUnplayedRoom deletes an empty unplayed room instead of finalizing it.
func (s *RoomService) cancelUnplayedRoom(tx *gorm.DB, room *models.Room) error {
	if err := tx.Where("room_id = ?", room.ID).
		Delete(&models.GameStats{}).Error; err != nil {
		return fmt.Errorf("failed to delete stats of unplayed room %d: %w", room.ID, err)
	}
	if err := tx.Unscoped().Delete(&models.Room{}, room.ID).Error; err != nil {
		return fmt.Errorf("failed to delete unplayed room %d: %w", room.ID, err)
	}
	room.Status = models.RoomStatusCancelled

	if s.Reveals != nil {
		s.Reveals.Cancel(room.ID)
	}
	if err := s.Live.Delete(context.Background(), room.ID); err != nil {
		log.Printf("⚠️ room %d: live cache delete failed: %v", room.ID, err)
	}
	if err := s.Fanout.NotifyRoom(context.Background(), room.ID, cache.EventGameCancelled, fiber.Map{
		"room_id": room.ID,
	}); err != nil {
		log.Printf("⚠️ room %d: game_cancelled fanout failed: %v", room.ID, err)
	}
	return nil
}

// determineWinners marks the winning participant set.
func determineWinners(participants []uint, scores map[string]int, forfeiterID *uint, mode string) map[uint]bool {
	winners := make(map[uint]bool, len(participants))

	if forfeiterID != nil && mode != models.ModeTimeTrial {
		for _, pid := range participants {
			winners[pid] = pid != *forfeiterID
		}
		return winners
	}

	best := false
	maxScore := 0
	for _, pid := range participants {
		score := scores[models.PlayerKey(pid)]
		if !best || score > maxScore {
			best = true
			maxScore = score
		}
	}
	for _, pid := range participants {
		winners[pid] = scores[models.PlayerKey(pid)] == maxScore
	}
	return winners
}

// Forfeit ends the game on behalf of one player. For solo time trials it
// simply finalizes the run.
func (s *RoomService) Forfeit(ctx context.Context, roomID, playerID uint) error {
	room, err := s.RoomWithPuzzle(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusPlaying {
		return ErrRoomNotPlaying
	}
	if !room.HasParticipant(playerID) {
		return ErrNotParticipant
	}

	live, err := s.loadLive(ctx, room)
	if err != nil {
		return err
	}

	var finalized *models.Room
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, roomID).Error; err != nil {
			return err
		}
		if locked.Status != models.RoomStatusPlaying {
			return nil
		}
		if err := s.OnGameEnd(tx, &locked, live, &playerID); err != nil {
			return err
		}
		finalized = &locked
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to forfeit room %d: %w", roomID, err)
	}
	if finalized == nil {
		return nil
	}
	if finalized.Status == models.RoomStatusFinished {
		if err := s.Live.Put(ctx, roomID, live); err != nil {
			log.Printf("⚠️ room %d: cache write after forfeit failed: %v", roomID, err)
		}
		s.archiveAsync(models.NewRoomView(finalized, live))
	}
	if err := s.Fanout.NotifyRoom(ctx, roomID, cache.EventRoom, models.NewRoomView(finalized, live)); err != nil {
		log.Printf("⚠️ room %d: fanout after forfeit failed: %v", roomID, err)
	}
	return nil
}

func (s *RoomService) ForfeitRoom(c *fiber.Ctx) error {
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

	err = s.Forfeit(c.Context(), uint(roomID), req.PlayerID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "ok"})
	case errors.Is(err, ErrRoomNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "room not found"})
	case errors.Is(err, ErrRoomNotPlaying):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotParticipant):
		return c.Status(403).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("❌ forfeit failed for room %d: %v", roomID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to forfeit"})
	}
}

// ensureStats loads or creates the (room, player) stats row.
func (s *RoomService) ensureStats(tx *gorm.DB, roomID, userID uint) (*models.GameStats, error) {
	var stats models.GameStats
	err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).First(&stats).Error
	if err == gorm.ErrRecordNotFound {
		stats = models.GameStats{RoomID: roomID, UserID: userID}
		if err := tx.Create(&stats).Error; err != nil {
			return nil, fmt.Errorf("failed to create stats for user %d: %w", userID, err)
		}
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for user %d: %w", userID, err)
	}
	return &stats, nil
}

// archiveAsync ships the final room snapshot to object storage. Best effort;
// the game result is already durable.
func (s *RoomService) archiveAsync(view *models.RoomView) {
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	go func() {
		if url, err := utils.UploadGameArchive(view.ID, payload); err != nil {
			log.Printf("⚠️ room %d: archive upload failed: %v", view.ID, err)
		} else if url != "" {
			log.Printf("📦 room %d archived: %s", view.ID, url)
		}
	}()
}
