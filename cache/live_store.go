package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"crossword-game-system/models"
)

// LiveStore keeps one models.LiveGame per room in Redis, keyed by the string
// form of the room id. Records are written whole and expire after the
// configured TTL so abandoned rooms clean themselves up.
type LiveStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLiveStore(rdb *redis.Client, ttl time.Duration) *LiveStore {
	return &LiveStore{rdb: rdb, ttl: ttl}
}

func liveKey(roomID uint) string {
	return "live_game:" + strconv.FormatUint(uint64(roomID), 10)
}

// Get returns the cached record, or (nil, nil) when the key is absent.
func (s *LiveStore) Get(ctx context.Context, roomID uint) (*models.LiveGame, error) {
	raw, err := s.rdb.Get(ctx, liveKey(roomID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live game %d: %w", roomID, err)
	}
	var lg models.LiveGame
	if err := json.Unmarshal([]byte(raw), &lg); err != nil {
		return nil, fmt.Errorf("corrupt live game %d: %w", roomID, err)
	}
	return &lg, nil
}

// Put overwrites the whole record and refreshes the TTL.
func (s *LiveStore) Put(ctx context.Context, roomID uint, lg *models.LiveGame) error {
	raw, err := json.Marshal(lg)
	if err != nil {
		return fmt.Errorf("failed to serialize live game %d: %w", roomID, err)
	}
	if err := s.rdb.Set(ctx, liveKey(roomID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write live game %d: %w", roomID, err)
	}
	return nil
}

func (s *LiveStore) Delete(ctx context.Context, roomID uint) error {
	if err := s.rdb.Del(ctx, liveKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to delete live game %d: %w", roomID, err)
	}
	return nil
}
