package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Event names pushed to connected clients. The gateway subscribes to the
// pub/sub channels and owns actual delivery; this service only publishes.
const (
	EventRoom          = "room"
	EventGameInactive  = "game_inactive"
	EventGameForfeited = "game_forfeited"
	EventGameCancelled = "game_cancelled"
	EventRatingChange  = "rating_change"
)

// InactiveEvent is the legacy auto-reveal payload clients still consume.
type InactiveEvent struct {
	CompletionRate float64 `json:"completionRate"`
	NextTimeout    int64   `json:"nextTimeout"` // millis
	RevealedLetter string  `json:"revealedLetter"`
	IsGameFinished bool    `json:"isGameFinished"`
}

// Fanout delivers room and per-user notifications. The Redis implementation
// publishes to pub/sub channels; tests swap in an in-memory recorder.
type Fanout interface {
	NotifyRoom(ctx context.Context, roomID uint, event string, payload any) error
	NotifyUsers(ctx context.Context, userIDs []uint, event string, payload any) error
}

type RedisFanout struct {
	rdb *redis.Client
}

func NewRedisFanout(rdb *redis.Client) *RedisFanout {
	return &RedisFanout{rdb: rdb}
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (f *RedisFanout) publish(ctx context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to serialize %s event: %w", event, err)
	}
	if err := f.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", event, channel, err)
	}
	return nil
}

func (f *RedisFanout) NotifyRoom(ctx context.Context, roomID uint, event string, payload any) error {
	return f.publish(ctx, "room:"+strconv.FormatUint(uint64(roomID), 10), event, payload)
}

func (f *RedisFanout) NotifyUsers(ctx context.Context, userIDs []uint, event string, payload any) error {
	for _, id := range userIDs {
		if err := f.publish(ctx, "user:"+strconv.FormatUint(uint64(id), 10), event, payload); err != nil {
			// Best effort per user; keep going so one bad channel doesn't
			// starve the rest.
			log.Printf("⚠️ fanout to user %d failed: %v", id, err)
		}
	}
	return nil
}
