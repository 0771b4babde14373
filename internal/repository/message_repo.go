package repository

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a message to the conversation log. The row is inserted
// unread; the read flag belongs to the recipient and is flipped only by
// MarkConversationRead.
func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID int64,
	sender models.SenderRole,
	body string,
	recipientAddress *string,
) (*models.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender, recipient_address, body, read)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id, conversation_id, sender, recipient_address, body, created_at, read
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, conversationID, sender, recipientAddress, body).Scan(
		&message.ID,
		&message.ConversationID,
		&message.Sender,
		&message.RecipientAddress,
		&message.Body,
		&message.CreatedAt,
		&message.Read,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation returns the full conversation, oldest first.
// Conversations are assumed bounded; there is no pagination.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, sender, recipient_address, body, created_at, read
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.Sender,
			&message.RecipientAddress,
			&message.Body,
			&message.CreatedAt,
			&message.Read,
		); err != nil {
			return nil, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkConversationRead flips every still-unread message authored by
// fromSender to read. Targeting only unread rows makes the bulk update
// idempotent and safe to run concurrently with itself.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	fromSender models.SenderRole,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read = TRUE
		WHERE conversation_id = $1
		  AND sender = $2
		  AND read = FALSE
	`, conversationID, fromSender)
	return err
}

// CountUnread counts messages awaiting forRole: authored by the counterpart
// and not yet marked read.
func (r *MessageRepository) CountUnread(
	ctx context.Context,
	conversationID int64,
	forRole models.SenderRole,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND sender <> $2
		  AND read = FALSE
	`

	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, forRole).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// ListConversationSummaries returns, per conversation, the latest message
// and the unread count from forRole's perspective, most recent first.
func (r *MessageRepository) ListConversationSummaries(
	ctx context.Context,
	forRole models.SenderRole,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT
			c.conversation_id,
			lm.id,
			lm.conversation_id,
			lm.sender,
			lm.recipient_address,
			lm.body,
			lm.created_at,
			lm.read,
			COALESCE(uc.unread_count, 0)
		FROM (
			SELECT DISTINCT conversation_id FROM messages
		) c
		LEFT JOIN LATERAL (
			SELECT id, conversation_id, sender, recipient_address, body, created_at, read
			FROM messages
			WHERE conversation_id = c.conversation_id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE conversation_id = c.conversation_id
			  AND sender <> $1
			  AND read = FALSE
		) uc ON TRUE
		ORDER BY lm.created_at DESC, c.conversation_id DESC
	`

	rows, err := r.db.Query(ctx, query, forRole)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullInt64
		var messageConversationID sql.NullInt64
		var messageSender sql.NullString
		var messageRecipient sql.NullString
		var messageBody sql.NullString
		var messageCreatedAt sql.NullTime
		var messageRead sql.NullBool

		if err := rows.Scan(
			&summary.ConversationID,
			&messageID,
			&messageConversationID,
			&messageSender,
			&messageRecipient,
			&messageBody,
			&messageCreatedAt,
			&messageRead,
			&summary.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.Message{
				ID:             messageID.Int64,
				ConversationID: messageConversationID.Int64,
				Sender:         models.SenderRole(messageSender.String),
				Body:           messageBody.String,
				CreatedAt:      messageCreatedAt.Time,
				Read:           messageRead.Bool,
			}
			if messageRecipient.Valid {
				summary.LastMessage.RecipientAddress = &messageRecipient.String
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}
