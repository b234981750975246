package workers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"gorm.io/datatypes"

	"crossword-game-system/config"
	"crossword-game-system/models"
	"crossword-game-system/services"
)

// ---- fakes ----

type commitCall struct {
	roomID   uint
	letters  []string
	finished bool
}

type fakeCoordinator struct {
	room    *models.Room
	commits []commitCall
}

func (f *fakeCoordinator) RoomWithPuzzle(ctx context.Context, roomID uint) (*models.Room, error) {
	if f.room == nil || f.room.ID != roomID {
		return nil, services.ErrRoomNotFound
	}
	return f.room, nil
}

func (f *fakeCoordinator) CommitReveal(ctx context.Context, roomID uint, live *models.LiveGame, finished bool) error {
	letters := append([]string(nil), live.FoundLetters...)
	f.commits = append(f.commits, commitCall{roomID: roomID, letters: letters, finished: finished})
	return nil
}

func (f *fakeCoordinator) PlayingRooms(ctx context.Context) ([]models.Room, error) {
	if f.room == nil {
		return nil, nil
	}
	return []models.Room{*f.room}, nil
}

type fakeLiveStore struct {
	rec  *models.LiveGame
	puts int
}

func (f *fakeLiveStore) Get(ctx context.Context, roomID uint) (*models.LiveGame, error) {
	return f.rec, nil
}

func (f *fakeLiveStore) Put(ctx context.Context, roomID uint, lg *models.LiveGame) error {
	f.rec = lg
	f.puts++
	return nil
}

type fanoutEvent struct {
	event   string
	payload any
}

type fakeFanout struct {
	events []fanoutEvent
}

func (f *fakeFanout) NotifyRoom(ctx context.Context, roomID uint, event string, payload any) error {
	f.events = append(f.events, fanoutEvent{event: event, payload: payload})
	return nil
}

func (f *fakeFanout) NotifyUsers(ctx context.Context, userIDs []uint, event string, payload any) error {
	f.events = append(f.events, fanoutEvent{event: event, payload: payload})
	return nil
}

func (f *fakeFanout) count(event string) int {
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type scheduled struct {
	job   RevealJob
	delay time.Duration
}

// ---- helpers ----

func workerFixture(t *testing.T, cells []string, width, height int, playerIDs ...uint) (*RevealWorker, *fakeCoordinator, *fakeLiveStore, *fakeFanout, *[]scheduled) {
	t.Helper()

	raw, _ := json.Marshal(cells)
	puzzle := &models.Puzzle{ID: 1, Title: "test", Width: width, Height: height, Cells: datatypes.JSON(raw)}
	room := &models.Room{ID: 5, Status: models.RoomStatusPlaying, Mode: models.ModeOneVsOne, PuzzleID: 1, Puzzle: puzzle, LastActivityAt: time.Now().Add(-time.Minute)}
	room.SetParticipantIDs(playerIDs)
	scores := map[string]int{}
	for _, id := range playerIDs {
		scores[models.PlayerKey(id)] = 0
	}
	room.SetScoreMap(scores)
	room.SetLetters(puzzle.EmptyBoard())

	co := &fakeCoordinator{room: room}
	live := &fakeLiveStore{}
	fan := &fakeFanout{}

	w, err := NewRevealWorker(co, live, fan, testConfig())
	if err != nil {
		t.Fatalf("failed to build worker: %v", err)
	}
	t.Cleanup(w.Stop)

	var calls []scheduled
	w.scheduleFn = func(job RevealJob, delay time.Duration) error {
		calls = append(calls, scheduled{job: job, delay: delay})
		return nil
	}
	w.pickFn = func(n int) int { return 0 } // deterministic: first unsolved cell

	return w, co, live, fan, &calls
}

func testConfig() *config.Config {
	return &config.Config{
		CorrectGuessPoints:   10,
		IncorrectGuessPoints: -2,
		RevealInitialDelay:   90 * time.Second,
		RevealMinDelay:       15 * time.Second,
		RevealRetryDelay:     5 * time.Second,
		RevealAcceleration:   0.2,
		RevealCompletionStep: 0.2,
	}
}

// ---- tests ----

func TestTickTrueInactivity(t *testing.T) {
	w, co, live, fan, calls := workerFixture(t, []string{"C", "A"}, 2, 1, 1, 2)

	rec := models.NewLiveGame(co.room)
	witness := rec.LastActivityAt
	live.rec = rec

	if err := w.Tick(context.Background(), RevealJob{RoomID: 5, LastActivityAt: witness}); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if len(co.commits) != 1 {
		t.Fatalf("expected 1 durable commit, got %d", len(co.commits))
	}
	if co.commits[0].letters[0] != "C" {
		t.Errorf("expected first cell revealed, board: %v", co.commits[0].letters)
	}
	if co.commits[0].finished {
		t.Error("one of two cells revealed should not finish the game")
	}
	if got := fan.count("game_inactive"); got != 1 {
		t.Errorf("expected exactly 1 game_inactive, got %d", got)
	}
	if got := fan.count("room"); got != 1 {
		t.Errorf("expected exactly 1 room notification, got %d", got)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected exactly 1 rescheduled job, got %d", len(*calls))
	}
	if (*calls)[0].job.LastActivityAt == witness {
		t.Error("rescheduled job must carry a fresh activity witness")
	}
}

func TestTickRaceSuppression(t *testing.T) {
	w, co, live, fan, calls := workerFixture(t, []string{"C", "A"}, 2, 1, 1, 2)

	rec := models.NewLiveGame(co.room)
	staleWitness := rec.LastActivityAt
	// A player found a letter after this job was scheduled.
	rec.FoundLetters[1] = "A"
	rec.LastActivityAt = staleWitness + 5000
	live.rec = rec

	if err := w.Tick(context.Background(), RevealJob{RoomID: 5, LastActivityAt: staleWitness}); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if len(co.commits) != 0 {
		t.Fatalf("suppressed tick must not touch the durable store, got %d commits", len(co.commits))
	}
	if got := fan.count("game_inactive"); got != 0 {
		t.Errorf("suppressed tick emitted %d game_inactive events", got)
	}
	if rec.FoundLetters[0] != models.CellUnsolved || rec.FoundLetters[1] != "A" {
		t.Errorf("suppressed tick mutated the board: %v", rec.FoundLetters)
	}
	if len(*calls) != 1 {
		t.Fatalf("suppressed tick must still reschedule once, got %d", len(*calls))
	}
	if (*calls)[0].job.LastActivityAt != rec.LastActivityAt {
		t.Error("next job must carry the current activity timestamp as witness")
	}
}

func TestTickRevealsLastCellAndFinishes(t *testing.T) {
	w, co, live, fan, calls := workerFixture(t, []string{"Q"}, 1, 1, 1, 2)

	rec := models.NewLiveGame(co.room)
	live.rec = rec

	if err := w.Tick(context.Background(), RevealJob{RoomID: 5, LastActivityAt: rec.LastActivityAt}); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	if len(co.commits) != 1 || !co.commits[0].finished {
		t.Fatalf("expected one finishing commit, got %+v", co.commits)
	}
	if got := fan.count("game_inactive"); got != 1 {
		t.Errorf("expected 1 game_inactive, got %d", got)
	}
	if len(*calls) != 0 {
		t.Errorf("finished game must not reschedule, got %d jobs", len(*calls))
	}
}

func TestTickSameCellConvergence(t *testing.T) {
	w, co, live, fan, _ := workerFixture(t, []string{"C", "A"}, 2, 1, 1, 2)

	rec := models.NewLiveGame(co.room)
	live.rec = rec

	if err := w.Tick(context.Background(), RevealJob{RoomID: 5, LastActivityAt: rec.LastActivityAt}); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if live.rec.FoundLetters[0] != "C" {
		t.Fatalf("worker did not reveal cell 0: %v", live.rec.FoundLetters)
	}

	// A guess that raced the worker to the same cell converges via the
	// idempotence gate: solved exactly once, no extra counters.
	outcome := live.rec.ApplyGuess(co.room.Puzzle, 1, 0, 0, "C", 10, -2, time.Now())
	if outcome != models.GuessAlreadySolved {
		t.Fatalf("expected GuessAlreadySolved, got %v", outcome)
	}
	if live.rec.GuessCounts["1"].Correct != 0 {
		t.Error("racing guess incremented a counter")
	}
	if live.rec.Scores["1"] != 0 {
		t.Error("racing guess moved a score")
	}
	if got := fan.count("game_inactive"); got != 1 {
		t.Errorf("expected exactly 1 game_inactive, got %d", got)
	}
	if got := fan.count("room"); got != 1 {
		t.Errorf("expected exactly 1 room notification, got %d", got)
	}
}

func TestTickScheduleFailureRetriesOnce(t *testing.T) {
	w, co, live, _, _ := workerFixture(t, []string{"C", "A"}, 2, 1, 1, 2)

	rec := models.NewLiveGame(co.room)
	live.rec = rec

	var attempts []time.Duration
	w.scheduleFn = func(job RevealJob, delay time.Duration) error {
		attempts = append(attempts, delay)
		return errors.New("queue unavailable")
	}

	if err := w.Tick(context.Background(), RevealJob{RoomID: 5, LastActivityAt: rec.LastActivityAt}); err != nil {
		t.Fatalf("tick must swallow scheduling failures, got %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected exactly 2 scheduling attempts, got %d", len(attempts))
	}
	if attempts[1] != w.cfg.RevealRetryDelay {
		t.Errorf("retry must use the shortened delay, got %s", attempts[1])
	}
	if attempts[1] >= attempts[0] {
		t.Errorf("retry delay %s not shorter than first attempt %s", attempts[1], attempts[0])
	}
}

func TestTickSkipsMissingOrFinishedRooms(t *testing.T) {
	w, co, live, fan, calls := workerFixture(t, []string{"C", "A"}, 2, 1, 1, 2)
	live.rec = models.NewLiveGame(co.room)

	t.Run("missing room", func(t *testing.T) {
		if err := w.Tick(context.Background(), RevealJob{RoomID: 999}); err != nil {
			t.Fatalf("missing room must be a clean no-op, got %v", err)
		}
	})

	t.Run("finished room", func(t *testing.T) {
		co.room.Status = models.RoomStatusFinished
		if err := w.Tick(context.Background(), RevealJob{RoomID: 5, LastActivityAt: live.rec.LastActivityAt}); err != nil {
			t.Fatalf("finished room must be a clean no-op, got %v", err)
		}
	})

	if len(co.commits) != 0 || len(fan.events) != 0 || len(*calls) != 0 {
		t.Error("no-op ticks produced side effects")
	}
}

func TestDecideRevealDelayCurve(t *testing.T) {
	cfg := testConfig()
	pick := func(n int) int { return 0 }

	board := func(solved int) *models.LiveGame {
		letters := make([]string, 10)
		for i := range letters {
			if i < solved {
				letters[i] = "A"
			} else {
				letters[i] = models.CellUnsolved
			}
		}
		return &models.LiveGame{LastActivityAt: 100, FoundLetters: letters}
	}

	cases := []struct {
		name   string
		solved int
		want   time.Duration
	}{
		{"empty board keeps the initial delay", 0, cfg.RevealInitialDelay},
		{"40% solved shrinks twice", 4, time.Duration(float64(cfg.RevealInitialDelay) * math.Pow(0.8, 2))},
		{"80% solved shrinks four times", 8, time.Duration(float64(cfg.RevealInitialDelay) * math.Pow(0.8, 4))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := decideReveal(board(tc.solved), 100, cfg, pick)
			if d.NextDelay != tc.want {
				t.Errorf("solved=%d: delay %s, want %s", tc.solved, d.NextDelay, tc.want)
			}
			if !d.Reveal {
				t.Errorf("solved=%d: matching witness must reveal", tc.solved)
			}
			wantRate := float64(tc.solved) / 10
			if d.CompletionRate != wantRate {
				t.Errorf("completion rate %v, want %v", d.CompletionRate, wantRate)
			}
		})
	}

	t.Run("delay never drops below the floor", func(t *testing.T) {
		floored := testConfig()
		floored.RevealMinDelay = time.Minute
		d := decideReveal(board(9), 100, floored, pick)
		if d.NextDelay != time.Minute {
			t.Errorf("delay %s, want the %s floor", d.NextDelay, time.Minute)
		}
	})
}
