package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"crossword-game-system/cache"
	appconfig "crossword-game-system/config"
	"crossword-game-system/handlers"
	"crossword-game-system/metrics"
	"crossword-game-system/middleware"
	"crossword-game-system/models"
	"crossword-game-system/services"
	"crossword-game-system/utils"
	"crossword-game-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := appconfig.Load()

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Puzzle{},
		&models.Room{},
		&models.GameStats{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("invalid REDIS_URL:", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := utils.InitArchiveStore(); err != nil {
		log.Fatal("failed to initialize archive store:", err)
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":9100", mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	liveStore := cache.NewLiveStore(rdb, cfg.LiveGameTTL)
	fanout := cache.NewRedisFanout(rdb)

	ratingService := services.NewRatingService(db, cfg)
	roomService := services.NewRoomService(db, liveStore, fanout, ratingService, cfg)

	revealWorker, err := workers.NewRevealWorker(roomService, liveStore, fanout, cfg)
	if err != nil {
		log.Fatal("failed to create reveal worker:", err)
	}
	roomService.Reveals = revealWorker
	revealWorker.Start()
	defer revealWorker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := revealWorker.RearmActive(ctx); err != nil {
		log.Printf("⚠️  failed to re-arm reveal jobs: %v", err)
	}

	handlers.SetupRoomRoutes(app, roomService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Metrics on http://localhost:9100/metrics")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.Shutdown()
}
