package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"crossword-game-system/cache"
	"crossword-game-system/config"
	"crossword-game-system/metrics"
	"crossword-game-system/models"
	"crossword-game-system/services"
)

// RevealJob is the payload a scheduled tick carries. LastActivityAt is the
// activity witness: the cache timestamp captured when the job was scheduled.
// A mismatch at run time means a player acted in between and the reveal must
// be suppressed.
type RevealJob struct {
	RoomID         uint  `json:"roomId"`
	LastActivityAt int64 `json:"lastActivityTimestamp"`
}

// Coordinator is the slice of the room service the worker needs.
type Coordinator interface {
	RoomWithPuzzle(ctx context.Context, roomID uint) (*models.Room, error)
	CommitReveal(ctx context.Context, roomID uint, live *models.LiveGame, finished bool) error
	PlayingRooms(ctx context.Context) ([]models.Room, error)
}

type liveStore interface {
	Get(ctx context.Context, roomID uint) (*models.LiveGame, error)
	Put(ctx context.Context, roomID uint, lg *models.LiveGame) error
}

// RevealWorker keeps one pending auto-reveal job per playing room. The more
// of the board is solved, the shorter the delay, so reveal pressure rises as
// the game nears completion. No lock is shared with the guess path; the
// activity witness is the only race defense.
type RevealWorker struct {
	co     Coordinator
	live   liveStore
	fanout cache.Fanout
	cfg    *config.Config
	sched  gocron.Scheduler

	// Swapped out in tests; defaults to the gocron-backed enqueue.
	scheduleFn func(job RevealJob, delay time.Duration) error
	// Picks one of n unsolved cells; defaults to rand.Intn.
	pickFn func(n int) int
}

func NewRevealWorker(co Coordinator, live liveStore, fanout cache.Fanout, cfg *config.Config) (*RevealWorker, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create reveal scheduler: %w", err)
	}
	w := &RevealWorker{
		co:     co,
		live:   live,
		fanout: fanout,
		cfg:    cfg,
		sched:  sched,
		pickFn: rand.Intn,
	}
	w.scheduleFn = w.enqueue
	return w, nil
}

func (w *RevealWorker) Start() {
	w.sched.Start()
	log.Println("✅ Auto-reveal worker running")
}

func (w *RevealWorker) Stop() {
	if err := w.sched.Shutdown(); err != nil {
		log.Printf("⚠️ reveal scheduler shutdown: %v", err)
	}
}

func roomTag(roomID uint) string {
	return fmt.Sprintf("room:%d", roomID)
}

// Schedule arms (or replaces) the room's reveal job at the initial delay,
// carrying the current cache activity timestamp as witness. Implements
// services.RevealScheduler.
func (w *RevealWorker) Schedule(roomID uint, lastActivityAt int64) {
	job := RevealJob{RoomID: roomID, LastActivityAt: lastActivityAt}
	if err := w.scheduleFn(job, w.cfg.RevealInitialDelay); err != nil {
		log.Printf("⚠️ room %d: failed to schedule reveal: %v", roomID, err)
	}
}

// Cancel removes any pending reveal job for the room.
func (w *RevealWorker) Cancel(roomID uint) {
	w.sched.RemoveByTags(roomTag(roomID))
}

// enqueue registers a one-shot gocron job. Only the newest job per room
// survives: scheduling removes whatever was pending under the room's tag.
func (w *RevealWorker) enqueue(job RevealJob, delay time.Duration) error {
	w.sched.RemoveByTags(roomTag(job.RoomID))
	_, err := w.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
		gocron.NewTask(w.runJob, job),
		gocron.WithName(fmt.Sprintf("reveal:%d:%s", job.RoomID, uuid.NewString()[:8])),
		gocron.WithTags(roomTag(job.RoomID)),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue reveal for room %d: %w", job.RoomID, err)
	}
	metrics.ScheduledRevealJobs.Set(float64(len(w.sched.Jobs())))
	return nil
}

func (w *RevealWorker) runJob(job RevealJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Tick(ctx, job); err != nil {
		log.Printf("⚠️ room %d: reveal tick failed: %v", job.RoomID, err)
	}
	metrics.ScheduledRevealJobs.Set(float64(len(w.sched.Jobs())))
}

// revealDecision is the outcome of the pure per-tick decision.
type revealDecision struct {
	Reveal         bool
	CellIndex      int
	LastCell       bool
	CompletionRate float64
	NextDelay      time.Duration
}

// decideReveal computes what a tick should do from the live record alone.
// Kept free of scheduling and I/O so it can be tested directly.
func decideReveal(live *models.LiveGame, witness int64, cfg *config.Config, pick func(n int) int) revealDecision {
	solved, playable := live.SolvedCount()
	rate := 0.0
	if playable > 0 {
		rate = float64(solved) / float64(playable)
	}

	steps := math.Floor(rate / cfg.RevealCompletionStep)
	delay := time.Duration(float64(cfg.RevealInitialDelay) * math.Pow(1-cfg.RevealAcceleration, steps))
	if delay < cfg.RevealMinDelay {
		delay = cfg.RevealMinDelay
	}

	d := revealDecision{CompletionRate: rate, NextDelay: delay}

	// Race gate: any activity since this job was scheduled means a player got
	// here first. Suppress the reveal, keep the cadence.
	if live.LastActivityAt != witness {
		return d
	}

	unsolved := live.UnsolvedCells()
	if len(unsolved) == 0 {
		return d
	}
	d.Reveal = true
	d.CellIndex = unsolved[pick(len(unsolved))]
	d.LastCell = len(unsolved) == 1
	return d
}

// Tick is one reveal job run.
func (w *RevealWorker) Tick(ctx context.Context, job RevealJob) error {
	room, err := w.co.RoomWithPuzzle(ctx, job.RoomID)
	if errors.Is(err, services.ErrRoomNotFound) {
		return nil // room deleted; job dies with it
	}
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusPlaying {
		return nil
	}

	live, err := w.live.Get(ctx, room.ID)
	if err != nil {
		return err
	}
	if live == nil {
		live = models.NewLiveGame(room)
	} else {
		live.EnsureParticipants(room)
	}

	decision := decideReveal(live, job.LastActivityAt, w.cfg, w.pickFn)

	finished := false
	if decision.Reveal {
		letter := room.Puzzle.Solution()[decision.CellIndex]
		live.FoundLetters[decision.CellIndex] = letter
		live.Touch(time.Now())
		finished = decision.LastCell

		if err := w.co.CommitReveal(ctx, room.ID, live, finished); err != nil {
			return err
		}
		if err := w.live.Put(ctx, room.ID, live); err != nil {
			return err
		}
		metrics.RevealsTotal.WithLabelValues("revealed").Inc()

		if err := w.fanout.NotifyRoom(ctx, room.ID, cache.EventGameInactive, cache.InactiveEvent{
			CompletionRate: decision.CompletionRate,
			NextTimeout:    decision.NextDelay.Milliseconds(),
			RevealedLetter: letter,
			IsGameFinished: finished,
		}); err != nil {
			log.Printf("⚠️ room %d: game_inactive fanout failed: %v", room.ID, err)
		}
		if finished {
			room.Status = models.RoomStatusFinished
		}
		if err := w.fanout.NotifyRoom(ctx, room.ID, cache.EventRoom, models.NewRoomView(room, live)); err != nil {
			log.Printf("⚠️ room %d: room fanout after reveal failed: %v", room.ID, err)
		}
	} else {
		metrics.RevealsTotal.WithLabelValues("suppressed").Inc()
	}

	if finished {
		return nil
	}

	// Re-arm with a fresh witness. One immediate retry at a shortened delay,
	// then give up until the next guess re-arms the room.
	next := RevealJob{RoomID: room.ID, LastActivityAt: live.LastActivityAt}
	if err := w.scheduleFn(next, decision.NextDelay); err != nil {
		log.Printf("⚠️ room %d: reveal re-schedule failed, retrying: %v", room.ID, err)
		if err := w.scheduleFn(next, w.cfg.RevealRetryDelay); err != nil {
			log.Printf("❌ room %d: reveal re-schedule retry failed, room disarmed: %v", room.ID, err)
		}
	}
	return nil
}

// RearmActive schedules a reveal job for every playing room. Called once at
// boot so rooms orphaned by a restart pick their cadence back up.
func (w *RevealWorker) RearmActive(ctx context.Context) error {
	rooms, err := w.co.PlayingRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		witness := room.LastActivityAt.UnixMilli()
		if live, err := w.live.Get(ctx, room.ID); err == nil && live != nil {
			witness = live.LastActivityAt
		}
		w.Schedule(room.ID, witness)
	}
	if len(rooms) > 0 {
		log.Printf("🔁 re-armed auto-reveal for %d playing room(s)", len(rooms))
	}
	return nil
}
