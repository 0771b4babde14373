package realtime

import (
	"context"
	"encoding/json"
	"errors"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
)

// Event is the wire format pushed over a chat websocket. An "ack" answers
// the sending side and echoes its local_id so the optimistic copy can be
// replaced by the authoritative message; a "message" notifies the
// counterpart of a new insert.
type Event struct {
	Type    string          `json:"type"`
	LocalID string          `json:"local_id,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	EventMessage = "message"
	EventAck     = "ack"
	EventError   = "error"
)

type sender interface {
	Send(ctx context.Context, actorID int64, role models.SenderRole, conversationID int64, body string, recipientAddress string) (*models.Message, error)
}

// Client bridges one websocket connection to a hub subscription for the
// lifetime of the socket.
type Client struct {
	conn           *websocket.Conn
	hub            *Hub
	service        sender
	actorID        int64
	conversationID int64
	role           models.SenderRole
	logger         zerolog.Logger

	send chan []byte
	done chan struct{}
}

func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	service sender,
	actorID int64,
	conversationID int64,
	role models.SenderRole,
	logger zerolog.Logger,
) *Client {
	return &Client{
		conn:           conn,
		hub:            hub,
		service:        service,
		actorID:        actorID,
		conversationID: conversationID,
		role:           role,
		logger: logger.With().
			Int64("conversation_id", conversationID).
			Str("role", string(role)).
			Logger(),
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

// Run serves the connection until the peer disconnects or the hub drops the
// subscription. It blocks; the handler calls it from the upgraded
// connection's goroutine.
func (c *Client) Run() {
	sub := c.hub.Subscribe(c.conversationID, c.role)
	defer sub.Close()
	defer close(c.done)

	go c.writePump()
	go c.eventPump(sub)

	c.readPump()
}

func (c *Client) readPump() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming struct {
			Type             string `json:"type"`
			LocalID          string `json:"local_id"`
			Body             string `json:"body"`
			RecipientAddress string `json:"recipient_address"`
		}
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.enqueue(Event{Type: EventError, Error: "invalid message payload"})
			continue
		}
		if incoming.Type != EventMessage {
			c.enqueue(Event{Type: EventError, LocalID: incoming.LocalID, Error: "unsupported message type"})
			continue
		}

		message, err := c.service.Send(
			context.Background(),
			c.actorID,
			c.role,
			c.conversationID,
			incoming.Body,
			incoming.RecipientAddress,
		)
		if err != nil {
			c.enqueue(Event{Type: EventError, LocalID: incoming.LocalID, Error: sendErrorText(err)})
			continue
		}

		// The hub never echoes own-role inserts back, so the ack is the
		// sender's only confirmation.
		c.enqueue(Event{Type: EventAck, LocalID: incoming.LocalID, Message: message})
	}
}

func (c *Client) eventPump(sub *Subscription) {
	for message := range sub.Events() {
		msg := message
		c.enqueue(Event{Type: EventMessage, Message: &msg})
	}
	// Subscription gone; end the session so the peer reconnects or polls.
	_ = c.conn.Close()
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) enqueue(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode websocket event")
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	}
}

func sendErrorText(err error) string {
	if errors.Is(err, context.Canceled) {
		return "send cancelled"
	}
	return err.Error()
}
