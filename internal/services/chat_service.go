package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/metrics"
	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyBody    = errors.New("message body is empty")
)

type messageStore interface {
	Create(ctx context.Context, conversationID int64, sender models.SenderRole, body string, recipientAddress *string) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int64, fromSender models.SenderRole) error
	CountUnread(ctx context.Context, conversationID int64, forRole models.SenderRole) (int, error)
	ListConversationSummaries(ctx context.Context, forRole models.SenderRole) ([]models.ConversationSummary, error)
}

type messagePublisher interface {
	Publish(message models.Message)
}

// ChatService owns the chat core: append/list against the durable log,
// idempotent read-state transitions, unread counts and fan-out to the
// realtime hub. A client may only touch its own conversation; a coach may
// touch any.
type ChatService struct {
	store     messageStore
	publisher messagePublisher
	logger    zerolog.Logger
}

func NewChatService(store messageStore, publisher messagePublisher, logger zerolog.Logger) *ChatService {
	return &ChatService{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "chat_service").Logger(),
	}
}

func (s *ChatService) authorize(actorID int64, role models.SenderRole, conversationID int64) error {
	if !role.Valid() {
		return ErrForbidden
	}
	if conversationID <= 0 {
		return ErrInvalidInput
	}
	if role == models.RoleClient && conversationID != actorID {
		return ErrForbidden
	}
	return nil
}

// Send validates and appends a message, then notifies subscribers of the
// conversation. The returned message is the authoritative row, already
// carrying the store-assigned id and timestamp.
func (s *ChatService) Send(
	ctx context.Context,
	actorID int64,
	role models.SenderRole,
	conversationID int64,
	body string,
	recipientAddress string,
) (*models.Message, error) {
	if err := s.authorize(actorID, role, conversationID); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, ErrEmptyBody
	}

	var recipient *string
	if addr := strings.TrimSpace(recipientAddress); addr != "" {
		recipient = &addr
	}

	message, err := s.store.Create(ctx, conversationID, role, trimmed, recipient)
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(string(role)).Inc()
	s.publisher.Publish(*message)

	return message, nil
}

// History returns the conversation oldest first.
func (s *ChatService) History(
	ctx context.Context,
	actorID int64,
	role models.SenderRole,
	conversationID int64,
) ([]models.Message, error) {
	if err := s.authorize(actorID, role, conversationID); err != nil {
		return nil, err
	}

	return s.store.ListByConversation(ctx, conversationID)
}

// MarkConversationRead marks every unread counterpart message in the
// conversation as read. Repeat calls with nothing left unread are no-ops.
func (s *ChatService) MarkConversationRead(
	ctx context.Context,
	actorID int64,
	role models.SenderRole,
	conversationID int64,
) error {
	if err := s.authorize(actorID, role, conversationID); err != nil {
		return err
	}

	if err := s.store.MarkConversationRead(ctx, conversationID, role.Counterpart()); err != nil {
		metrics.MarkReadFailures.Inc()
		s.logger.Warn().
			Err(err).
			Int64("conversation_id", conversationID).
			Str("role", string(role)).
			Msg("mark conversation read failed, next focus or poll retries")
		return err
	}

	return nil
}

// UnreadCount recomputes the caller's unread badge from the store. There is
// no cached counter state; concurrent poll and push consumers converge on
// the same value.
func (s *ChatService) UnreadCount(
	ctx context.Context,
	actorID int64,
	role models.SenderRole,
	conversationID int64,
) (int, error) {
	if err := s.authorize(actorID, role, conversationID); err != nil {
		return 0, err
	}

	metrics.UnreadQueries.Inc()
	return s.store.CountUnread(ctx, conversationID, role)
}

// ListConversationSummaries is the coach panel's client list: last message
// plus unread count per conversation.
func (s *ChatService) ListConversationSummaries(
	ctx context.Context,
	role models.SenderRole,
) ([]models.ConversationSummary, error) {
	if role != models.RoleCoach {
		return nil, ErrForbidden
	}

	return s.store.ListConversationSummaries(ctx, role)
}
