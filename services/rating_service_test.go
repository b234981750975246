package services

import (
	"math"
	"testing"
	"time"

	"crossword-game-system/config"
	"crossword-game-system/models"
)

func testConfig() *config.Config {
	return &config.Config{
		CorrectGuessPoints:   10,
		IncorrectGuessPoints: -2,
		ForfeitPenalty:       -50,
		RevealInitialDelay:   90 * time.Second,
		RevealMinDelay:       15 * time.Second,
		RevealRetryDelay:     5 * time.Second,
		RevealAcceleration:   0.2,
		RevealCompletionStep: 0.2,
		EloBaseK:             24,
		EloDampening:         5,
		EloStreakBonus:       0.1,
		EloStreakBonusMax:    0.5,
		DefaultRating:        1200,
	}
}

func player(id uint, rating, games, streak int) *models.User {
	return &models.User{ID: id, Rating: rating, GamesPlayed: games, WinStreak: streak}
}

func TestComputeRatingsHeadToHead(t *testing.T) {
	cfg := testConfig()

	t.Run("draw between equals leaves ratings unchanged", func(t *testing.T) {
		a, b := player(1, 1200, 20, 0), player(2, 1200, 20, 0)
		scores := map[string]int{"1": 30, "2": 30}
		out := computeRatings(cfg, models.ModeOneVsOne, []*models.User{a, b}, scores)
		if out[1] != 1200 || out[2] != 1200 {
			t.Fatalf("draw moved ratings: %v", out)
		}
	})

	t.Run("winner gains what the loser gives up", func(t *testing.T) {
		a, b := player(1, 1200, 20, 0), player(2, 1200, 20, 0)
		scores := map[string]int{"1": 50, "2": 10}
		out := computeRatings(cfg, models.ModeOneVsOne, []*models.User{a, b}, scores)
		if out[1] <= 1200 {
			t.Errorf("winner did not gain: %d", out[1])
		}
		if out[2] >= 1200 {
			t.Errorf("loser did not lose: %d", out[2])
		}
		// Same K on both sides, symmetric expectations.
		if out[1]-1200 != 1200-out[2] {
			t.Errorf("asymmetric transfer: +%d vs -%d", out[1]-1200, 1200-out[2])
		}
	})

	t.Run("underdog win swings more than favorite win", func(t *testing.T) {
		underdog := player(1, 1000, 20, 0)
		favorite := player(2, 1400, 20, 0)
		scores := map[string]int{"1": 50, "2": 10}
		out := computeRatings(cfg, models.ModeOneVsOne, []*models.User{underdog, favorite}, scores)
		upset := out[1] - 1000

		underdog2 := player(1, 1400, 20, 0)
		favorite2 := player(2, 1000, 20, 0)
		out2 := computeRatings(cfg, models.ModeOneVsOne, []*models.User{underdog2, favorite2}, scores)
		expected := out2[1] - 1400

		if upset <= expected {
			t.Errorf("upset gain %d should exceed expected-win gain %d", upset, expected)
		}
	})
}

func TestKFactorBounds(t *testing.T) {
	cfg := testConfig()

	t.Run("win streak bonus is capped", func(t *testing.T) {
		hot := player(1, 1200, 20, 10) // uncapped bonus would be 1.0
		capped := kFactor(cfg, hot)
		max := cfg.EloBaseK * (1 + cfg.EloStreakBonusMax)
		if capped > max+1e-9 {
			t.Fatalf("k factor %v exceeds cap %v", capped, max)
		}
		// And the cap actually binds at streak 10.
		if math.Abs(capped-max) > 1e-9 {
			t.Fatalf("expected cap to bind: got %v want %v", capped, max)
		}
	})

	t.Run("streak gain is bounded, not unbounded", func(t *testing.T) {
		scores := map[string]int{"1": 50, "2": 10}
		hot := computeRatings(cfg, models.ModeOneVsOne,
			[]*models.User{player(1, 1200, 20, 10), player(2, 1200, 20, 0)}, scores)
		hotter := computeRatings(cfg, models.ModeOneVsOne,
			[]*models.User{player(1, 1200, 20, 100), player(2, 1200, 20, 0)}, scores)
		if hot[1] != hotter[1] {
			t.Fatalf("streak 100 gained more than streak 10: %d vs %d", hotter[1], hot[1])
		}
	})

	t.Run("new players swing harder than veterans", func(t *testing.T) {
		scores := map[string]int{"1": 50, "2": 10}
		rookie := computeRatings(cfg, models.ModeOneVsOne,
			[]*models.User{player(1, 1200, 0, 0), player(2, 1200, 50, 0)}, scores)
		veteran := computeRatings(cfg, models.ModeOneVsOne,
			[]*models.User{player(1, 1200, 50, 0), player(2, 1200, 50, 0)}, scores)
		if rookie[1]-1200 <= veteran[1]-1200 {
			t.Fatalf("rookie gain %d not above veteran gain %d", rookie[1]-1200, veteran[1]-1200)
		}
	})
}

func TestComputeRatingsTeam(t *testing.T) {
	cfg := testConfig()
	// Join order decides teams: players[0:2] vs players[2:4].
	players := []*models.User{
		player(1, 1200, 20, 0), player(2, 1300, 20, 0),
		player(3, 1200, 20, 0), player(4, 1300, 20, 0),
	}
	scores := map[string]int{"1": 40, "2": 30, "3": 10, "4": 5}
	out := computeRatings(cfg, models.ModeTwoVsTwo, players, scores)

	for _, id := range []uint{1, 2} {
		if out[id] <= players[id-1].Rating {
			t.Errorf("winning team member %d did not gain: %d", id, out[id])
		}
	}
	for _, id := range []uint{3, 4} {
		if out[id] >= players[id-1].Rating {
			t.Errorf("losing team member %d did not lose: %d", id, out[id])
		}
	}
}

func TestComputeRatingsFreeForAll(t *testing.T) {
	cfg := testConfig()
	players := []*models.User{
		player(1, 1200, 20, 0),
		player(2, 1200, 20, 0),
		player(3, 1200, 20, 0),
	}
	scores := map[string]int{"1": 60, "2": 30, "3": 10}
	out := computeRatings(cfg, models.ModeFreeForAll, players, scores)

	if out[1] <= 1200 {
		t.Errorf("top scorer did not gain: %d", out[1])
	}
	if out[2] != 1200 {
		t.Errorf("middle of equals should hold at 1200: %d", out[2])
	}
	if out[3] >= 1200 {
		t.Errorf("bottom scorer did not lose: %d", out[3])
	}
}

func TestComputeRatingsTimeTrial(t *testing.T) {
	cfg := testConfig()
	solo := []*models.User{player(1, 1234, 3, 2)}
	out := computeRatings(cfg, models.ModeTimeTrial, solo, map[string]int{"1": 80})
	if out[1] != 1234 {
		t.Fatalf("time trial changed a rating: %d", out[1])
	}
}

func TestDetermineWinners(t *testing.T) {
	t.Run("max score wins, ties share", func(t *testing.T) {
		winners := determineWinners([]uint{1, 2, 3}, map[string]int{"1": 30, "2": 30, "3": 10}, nil, models.ModeFreeForAll)
		if !winners[1] || !winners[2] || winners[3] {
			t.Fatalf("unexpected winner set: %v", winners)
		}
	})

	t.Run("forfeit makes everyone else a winner regardless of score", func(t *testing.T) {
		forfeiter := uint(1)
		winners := determineWinners([]uint{1, 2}, map[string]int{"1": 99, "2": 0}, &forfeiter, models.ModeOneVsOne)
		if winners[1] || !winners[2] {
			t.Fatalf("unexpected winner set after forfeit: %v", winners)
		}
	})

	t.Run("solo time trial forfeit keeps score-based outcome", func(t *testing.T) {
		forfeiter := uint(1)
		winners := determineWinners([]uint{1}, map[string]int{"1": 20}, &forfeiter, models.ModeTimeTrial)
		if !winners[1] {
			t.Fatalf("solo run should still finalize as its own winner: %v", winners)
		}
	})
}
