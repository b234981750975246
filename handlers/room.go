package handlers

import (
	"crossword-game-system/middleware"
	"crossword-game-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRoomRoutes(app *fiber.App, roomService *services.RoomService) {
	// 🔓 Read-only routes — still behind the global Gateway auth
	app.Get("/rooms/:id", roomService.GetRoom)
	app.Get("/leaderboard", roomService.Leaderboard)
	app.Get("/users/:id/stats", roomService.GetUserStats)

	// 🔐 Mutating routes — require user context from the Gateway
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/rooms", roomService.CreateRoom)
	secured.Post("/rooms/:id/join", roomService.JoinRoom)
	secured.Post("/rooms/:id/leave", roomService.LeaveRoom)
	secured.Post("/rooms/:id/start", roomService.StartRoom)
	secured.Post("/rooms/:id/guess", roomService.SubmitGuess)
	secured.Post("/rooms/:id/forfeit", roomService.ForfeitRoom)
}
