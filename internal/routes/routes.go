package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/config"
	"github.com/DorianValentino/eliteshred-dashboard/internal/handlers"
	"github.com/DorianValentino/eliteshred-dashboard/internal/middleware"
	"github.com/DorianValentino/eliteshred-dashboard/internal/realtime"
	"github.com/DorianValentino/eliteshred-dashboard/internal/repository"
	"github.com/DorianValentino/eliteshred-dashboard/internal/services"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, logger zerolog.Logger) {
	messageRepo := repository.NewMessageRepository(db)

	hub := realtime.NewHub()
	go hub.Run()

	chatService := services.NewChatService(messageRepo, hub, logger)
	chatHandler := handlers.NewChatHandler(chatService, hub, cfg.JWTSecret, logger)
	authHandler := handlers.NewAuthHandler(cfg.CoachEmail, cfg.CoachPasswordHash, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)

	// Registered ahead of the bearer-auth group: WebSocketAuth does its own
	// token validation and also accepts the token as a query parameter,
	// which browser websocket clients cannot send as a header.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkRead)
	conversations.Get("/:id/unread", chatHandler.GetUnreadCount)

	if cfg.EnableMetrics {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
}
