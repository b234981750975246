package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config collects every tunable the room core reads. Values come from the
// environment with sane defaults so local runs work without a .env file.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// Guess scoring
	CorrectGuessPoints   int
	IncorrectGuessPoints int // negative
	ForfeitPenalty       int // negative, applied to the forfeiter's score

	// Live game cache
	LiveGameTTL time.Duration

	// Auto-reveal scheduling
	RevealInitialDelay   time.Duration
	RevealMinDelay       time.Duration
	RevealRetryDelay     time.Duration // shortened delay for the single re-enqueue retry
	RevealAcceleration   float64       // per-step shrink factor, 0 < a < 1
	RevealCompletionStep float64       // completion-rate bucket size

	// Rating engine
	EloBaseK          float64
	EloDampening      float64 // gamesDampening = max(1, EloDampening / max(1, gamesPlayed))
	EloStreakBonus    float64 // per consecutive win
	EloStreakBonusMax float64 // cap on the streak bonus
	DefaultRating     int

	LeaderboardSize int
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		CorrectGuessPoints:   getEnvInt("CORRECT_GUESS_POINTS", 10),
		IncorrectGuessPoints: getEnvInt("INCORRECT_GUESS_POINTS", -2),
		ForfeitPenalty:       getEnvInt("FORFEIT_PENALTY", -50),

		LiveGameTTL: getEnvDuration("LIVE_GAME_TTL", 24*time.Hour),

		RevealInitialDelay:   getEnvDuration("REVEAL_INITIAL_DELAY", 90*time.Second),
		RevealMinDelay:       getEnvDuration("REVEAL_MIN_DELAY", 15*time.Second),
		RevealRetryDelay:     getEnvDuration("REVEAL_RETRY_DELAY", 5*time.Second),
		RevealAcceleration:   getEnvFloat("REVEAL_ACCELERATION", 0.2),
		RevealCompletionStep: getEnvFloat("REVEAL_COMPLETION_STEP", 0.2),

		EloBaseK:          getEnvFloat("ELO_BASE_K", 24),
		EloDampening:      getEnvFloat("ELO_DAMPENING", 5),
		EloStreakBonus:    getEnvFloat("ELO_STREAK_BONUS", 0.1),
		EloStreakBonusMax: getEnvFloat("ELO_STREAK_BONUS_MAX", 0.5),
		DefaultRating:     getEnvInt("DEFAULT_RATING", 1200),

		LeaderboardSize: getEnvInt("LEADERBOARD_SIZE", 50),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %g", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}
