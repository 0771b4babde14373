package chatview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
	"github.com/DorianValentino/eliteshred-dashboard/internal/realtime"
)

// Remote implements API and Feed against a chat server for a view running
// in its own process, e.g. the client party while the coach is absent.
type Remote struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

func NewRemote(baseURL, token string, logger zerolog.Logger) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "chat_remote").Logger(),
	}
}

func (r *Remote) Send(
	ctx context.Context,
	conversationID int64,
	_ models.SenderRole,
	body string,
	recipientAddress string,
) (*models.Message, error) {
	payload, err := json.Marshal(map[string]string{
		"body":              body,
		"recipient_address": recipientAddress,
	})
	if err != nil {
		return nil, err
	}

	var response struct {
		Message *models.Message `json:"message"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := r.do(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, err
	}
	if response.Message == nil {
		return nil, fmt.Errorf("send: empty response")
	}

	return response.Message, nil
}

func (r *Remote) History(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var response struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if err := r.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}

	return response.Messages, nil
}

func (r *Remote) MarkConversationRead(ctx context.Context, conversationID int64, _ models.SenderRole) error {
	path := fmt.Sprintf("/api/v1/conversations/%d/read", conversationID)
	return r.do(ctx, http.MethodPost, path, nil, nil)
}

func (r *Remote) UnreadCount(ctx context.Context, conversationID int64, _ models.SenderRole) (int, error) {
	var response struct {
		Unread int `json:"unread"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/unread", conversationID)
	if err := r.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return 0, err
	}

	return response.Unread, nil
}

// Subscribe opens the push feed over a websocket. The server filters out
// the caller's own role before delivery.
func (r *Remote) Subscribe(conversationID int64, _ models.SenderRole) (Subscription, error) {
	wsURL, err := r.websocketURL(conversationID)
	if err != nil {
		return nil, err
	}

	// The bearer header satisfies the auth middleware guarding /api/v1;
	// the token query parameter stays for dialers that cannot set headers.
	header := http.Header{"Authorization": {"Bearer " + r.token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial chat feed: %w", err)
	}

	sub := &remoteSubscription{
		conn:   conn,
		events: make(chan models.Message, 32),
	}
	go sub.read(r.logger)

	return sub, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, failure.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *Remote) websocketURL(conversationID int64) (string, error) {
	parsed, err := url.Parse(r.baseURL)
	if err != nil {
		return "", err
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/api/v1/ws"

	query := parsed.Query()
	query.Set("conversation_id", strconv.FormatInt(conversationID, 10))
	query.Set("token", r.token)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

type remoteSubscription struct {
	conn      *websocket.Conn
	events    chan models.Message
	closeOnce sync.Once
}

func (s *remoteSubscription) read(logger zerolog.Logger) {
	defer close(s.events)

	for {
		var event realtime.Event
		if err := s.conn.ReadJSON(&event); err != nil {
			return
		}

		// Acks are consumed by the HTTP response path; only counterpart
		// inserts feed the view.
		if event.Type != realtime.EventMessage || event.Message == nil {
			if event.Type == realtime.EventError {
				logger.Warn().Str("error", event.Error).Msg("chat feed error event")
			}
			continue
		}

		s.events <- *event.Message
	}
}

func (s *remoteSubscription) Events() <-chan models.Message {
	return s.events
}

func (s *remoteSubscription) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
