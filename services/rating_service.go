package services

import (
	"fmt"
	"math"

	"gorm.io/gorm"

	"crossword-game-system/config"
	"crossword-game-system/metrics"
	"crossword-game-system/models"
)

// RatingService implements the Elo-style rating update run at game end.
// The math is pure over (ratings, prior game counts, win streaks, final
// scores); only UpdateRatings touches the database.
type RatingService struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewRatingService(db *gorm.DB, cfg *config.Config) *RatingService {
	return &RatingService{DB: db, Cfg: cfg}
}

// UpdateRatings recomputes and persists every participant's rating for a
// finished room. Must be called inside the game-end transaction so a rating
// write never lands without the matching stats row.
func (s *RatingService) UpdateRatings(tx *gorm.DB, room *models.Room) (map[uint]int, error) {
	ids := room.ParticipantIDs()

	var users []models.User
	if err := tx.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load participants for room %d: %w", room.ID, err)
	}
	byID := make(map[uint]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	// Participant order matters: 2v2 teams split by join order.
	ordered := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("participant %d of room %d has no user row", id, room.ID)
		}
		ordered = append(ordered, u)
	}

	newRatings := computeRatings(s.Cfg, room.Mode, ordered, room.ScoreMap())

	for _, u := range ordered {
		next := newRatings[u.ID]
		if next == u.Rating {
			continue
		}
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).
			Update("rating", next).Error; err != nil {
			return nil, fmt.Errorf("failed to persist rating for user %d: %w", u.ID, err)
		}
		metrics.RatingUpdatesTotal.Inc()
	}
	return newRatings, nil
}

// kFactor is the per-player dynamic K: frequent players move less, hot
// streaks move more, capped.
func kFactor(cfg *config.Config, u *models.User) float64 {
	dampening := math.Max(1, cfg.EloDampening/math.Max(1, float64(u.GamesPlayed)))
	bonus := math.Min(cfg.EloStreakBonusMax, float64(u.WinStreak)*cfg.EloStreakBonus)
	return cfg.EloBaseK * dampening * (1 + bonus)
}

func expectedScore(ratingA, ratingB float64) float64 {
	return 1 / (1 + math.Pow(10, (ratingB-ratingA)/400))
}

// actualScore compares final scores: 1 win, 0.5 tie, 0 loss.
func actualScore(a, b int) float64 {
	switch {
	case a > b:
		return 1
	case a < b:
		return 0
	default:
		return 0.5
	}
}

// computeRatings dispatches on game mode. Players are in join order.
func computeRatings(cfg *config.Config, mode string, players []*models.User, scores map[string]int) map[uint]int {
	out := make(map[uint]int, len(players))
	for _, u := range players {
		out[u.ID] = u.Rating
	}

	switch mode {
	case models.ModeOneVsOne:
		if len(players) != 2 {
			return out
		}
		a, b := players[0], players[1]
		sa := scores[models.PlayerKey(a.ID)]
		sb := scores[models.PlayerKey(b.ID)]
		out[a.ID] = newRating(cfg, a, float64(b.Rating), actualScore(sa, sb))
		out[b.ID] = newRating(cfg, b, float64(a.Rating), actualScore(sb, sa))

	case models.ModeTwoVsTwo:
		if len(players) != 4 {
			return out
		}
		teamA, teamB := players[:2], players[2:]
		scoreA := teamScore(teamA, scores)
		scoreB := teamScore(teamB, scores)
		meanA, meanB := meanRating(teamA), meanRating(teamB)
		for _, u := range teamA {
			out[u.ID] = newRating(cfg, u, meanB, actualScore(scoreA, scoreB))
		}
		for _, u := range teamB {
			out[u.ID] = newRating(cfg, u, meanA, actualScore(scoreB, scoreA))
		}

	case models.ModeFreeForAll:
		if len(players) < 2 {
			return out
		}
		for _, u := range players {
			su := scores[models.PlayerKey(u.ID)]
			var expSum, actSum float64
			for _, opp := range players {
				if opp.ID == u.ID {
					continue
				}
				expSum += expectedScore(float64(u.Rating), float64(opp.Rating))
				actSum += actualScore(su, scores[models.PlayerKey(opp.ID)])
			}
			n := float64(len(players) - 1)
			delta := kFactor(cfg, u) * (actSum/n - expSum/n)
			out[u.ID] = int(math.Round(float64(u.Rating) + delta))
		}

	case models.ModeTimeTrial:
		// single-player, nothing to rate
	}
	return out
}

func newRating(cfg *config.Config, u *models.User, oppRating, actual float64) int {
	expected := expectedScore(float64(u.Rating), oppRating)
	return int(math.Round(float64(u.Rating) + kFactor(cfg, u)*(actual-expected)))
}

func teamScore(team []*models.User, scores map[string]int) int {
	total := 0
	for _, u := range team {
		total += scores[models.PlayerKey(u.ID)]
	}
	return total
}

func meanRating(team []*models.User) float64 {
	sum := 0.0
	for _, u := range team {
		sum += float64(u.Rating)
	}
	return sum / float64(len(team))
}
