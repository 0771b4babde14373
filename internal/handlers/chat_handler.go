package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
	"github.com/DorianValentino/eliteshred-dashboard/internal/realtime"
	"github.com/DorianValentino/eliteshred-dashboard/internal/services"
	"github.com/DorianValentino/eliteshred-dashboard/pkg/utils"
)

type chatApplicationService interface {
	Send(ctx context.Context, actorID int64, role models.SenderRole, conversationID int64, body string, recipientAddress string) (*models.Message, error)
	History(ctx context.Context, actorID int64, role models.SenderRole, conversationID int64) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, actorID int64, role models.SenderRole, conversationID int64) error
	UnreadCount(ctx context.Context, actorID int64, role models.SenderRole, conversationID int64) (int, error)
	ListConversationSummaries(ctx context.Context, role models.SenderRole) ([]models.ConversationSummary, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *realtime.Hub
	jwtSecret string
	logger    zerolog.Logger
}

func NewChatHandler(service chatApplicationService, hub *realtime.Hub, jwtSecret string, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

type sendMessageRequest struct {
	Body             string `json:"body"`
	RecipientAddress string `json:"recipient_address"`
	LocalID          string `json:"local_id"`
}

// ListConversations returns the coach panel's client list.
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	_, role, err := actorFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	summaries, err := h.service.ListConversationSummaries(c.Context(), role)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": summaries})
}

// GetMessages returns the full conversation, oldest first.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actorID, role, err := actorFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	messages, err := h.service.History(c.Context(), actorID, role, conversationID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

// SendMessage appends a message. The optional local_id is echoed back so
// the sender can replace its optimistic copy with the stored row.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actorID, role, err := actorFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.Send(c.Context(), actorID, role, conversationID, req.Body, req.RecipientAddress)
	if err != nil {
		return h.mapChatError(c, err)
	}

	response := fiber.Map{"message": message}
	if req.LocalID != "" {
		response["local_id"] = req.LocalID
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

// MarkRead flips every unread counterpart message in the conversation.
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	actorID, role, err := actorFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if err := h.service.MarkConversationRead(c.Context(), actorID, role, conversationID); err != nil {
		return h.mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetUnreadCount serves the badge poller.
func (h *ChatHandler) GetUnreadCount(c *fiber.Ctx) error {
	actorID, role, err := actorFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := parseConversationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	count, err := h.service.UnreadCount(c.Context(), actorID, role, conversationID)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unread": count})
}

// WebSocketAuth authenticates the upgrade request and pins the socket to
// one conversation. Clients may only subscribe to their own conversation.
func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	role := models.SenderRole(claims.Role)
	if !role.Valid() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actorID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Query("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}
	if role == models.RoleClient && conversationID != actorID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	c.Locals("conversation_id", conversationID)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	conversationID, _ := conn.Locals("conversation_id").(int64)

	actorID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := realtime.NewClient(
		h.hub,
		conn,
		h.service,
		actorID,
		conversationID,
		models.SenderRole(role),
		h.logger,
	)
	client.Run()
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func (h *ChatHandler) mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEmptyBody):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message body must not be empty"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("chat request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}

func actorFromLocals(c *fiber.Ctx) (int64, models.SenderRole, error) {
	roleString, ok := c.Locals("role").(string)
	if !ok {
		return 0, "", errors.New("missing role")
	}
	role := models.SenderRole(roleString)
	if !role.Valid() {
		return 0, "", errors.New("invalid role")
	}

	userID, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, "", errors.New("missing user id")
	}
	actorID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, "", err
	}

	return actorID, role, nil
}

func parseConversationID(c *fiber.Ctx) (int64, error) {
	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return 0, errors.New("invalid conversation id")
	}
	return conversationID, nil
}
