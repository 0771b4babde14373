// Package chatview implements the party-side conversation view: optimistic
// sends, reconciliation with the authoritative store, focus-driven read
// state and the unread badge. One View backs one open chat window; the
// coach process and the client process each run their own, uncoordinated.
package chatview

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
)

var ErrEmptyBody = errors.New("message body is empty")

const defaultPollInterval = 2 * time.Second

// API is the store-facing surface a view needs. It is implemented by the
// in-process chat service and by Remote for a view running in a separate
// process.
type API interface {
	Send(ctx context.Context, conversationID int64, role models.SenderRole, body string, recipientAddress string) (*models.Message, error)
	History(ctx context.Context, conversationID int64) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int64, role models.SenderRole) error
	UnreadCount(ctx context.Context, conversationID int64, forRole models.SenderRole) (int, error)
}

// Feed hands out realtime subscriptions for counterpart inserts.
type Feed interface {
	Subscribe(conversationID int64, role models.SenderRole) (Subscription, error)
}

type Subscription interface {
	Events() <-chan models.Message
	Close()
}

// DeliveryState tracks an entry from the sender's perspective. Failed sends
// never reach the entry list: the optimistic copy is removed and the error
// returned to the caller, who may resend.
type DeliveryState int

const (
	StatePending DeliveryState = iota
	StateConfirmed
)

// Entry is one rendered message. LocalID correlates an optimistic copy with
// the authoritative row that eventually confirms it.
type Entry struct {
	Message models.Message
	LocalID string
	State   DeliveryState
}

type Config struct {
	ConversationID int64
	Role           models.SenderRole

	// RecipientAddress rides along on outgoing messages for notification
	// routing only.
	RecipientAddress string

	// MarkReadOnOpen marks counterpart messages read right after the
	// history load, before any explicit focus. The coach window does this;
	// the client window waits for focus.
	MarkReadOnOpen bool

	PollInterval time.Duration
	Logger       zerolog.Logger

	// OnInsert, if set, is called for every counterpart message accepted
	// into the view (deduplicated, in arrival order).
	OnInsert func(models.Message)
}

// View is safe for concurrent use: the feed pump, the badge poller and the
// owning UI all touch it.
type View struct {
	cfg  Config
	api  API
	feed Feed

	mu       sync.Mutex
	entries  []Entry
	seen     map[int64]struct{}
	unread   int
	focused  bool
	pollOnly bool
	closed   bool

	sub       Subscription
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewCoachView opens on the coach side: history is marked read immediately
// after loading.
func NewCoachView(api API, feed Feed, conversationID int64, recipientAddress string, logger zerolog.Logger) *View {
	return New(api, feed, Config{
		ConversationID:   conversationID,
		Role:             models.RoleCoach,
		RecipientAddress: recipientAddress,
		MarkReadOnOpen:   true,
		Logger:           logger,
	})
}

// NewClientView opens on the client side: messages stay unread until the
// window gains focus.
func NewClientView(api API, feed Feed, conversationID int64, logger zerolog.Logger) *View {
	return New(api, feed, Config{
		ConversationID: conversationID,
		Role:           models.RoleClient,
		Logger:         logger,
	})
}

func New(api API, feed Feed, cfg Config) *View {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.Logger = cfg.Logger.With().
		Int64("conversation_id", cfg.ConversationID).
		Str("role", string(cfg.Role)).
		Logger()

	return &View{
		cfg:  cfg,
		api:  api,
		feed: feed,
		seen: make(map[int64]struct{}),
	}
}

// Open loads history, subscribes to the realtime feed and starts the badge
// poller. A failed subscription is not fatal: the view degrades to
// poll-only until reopened.
func (v *View) Open(ctx context.Context) error {
	history, err := v.api.History(ctx, v.cfg.ConversationID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	for _, message := range history {
		v.insertLocked(message)
	}
	v.mu.Unlock()

	sub, err := v.feed.Subscribe(v.cfg.ConversationID, v.cfg.Role)
	if err != nil {
		v.cfg.Logger.Warn().Err(err).Msg("realtime subscription failed, polling only")
		v.mu.Lock()
		v.pollOnly = true
		v.mu.Unlock()
	} else {
		v.sub = sub
		go v.pump(sub)
	}

	if v.cfg.MarkReadOnOpen {
		v.markRead(ctx)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	go v.poll(pollCtx)

	return nil
}

// Send appends the message optimistically, then confirms it against the
// store. On failure the optimistic copy is removed and the error returned;
// there is no automatic retry.
func (v *View) Send(ctx context.Context, body string) (*models.Message, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, ErrEmptyBody
	}

	localID := uuid.NewString()
	var recipient *string
	if v.cfg.RecipientAddress != "" {
		addr := v.cfg.RecipientAddress
		recipient = &addr
	}

	v.mu.Lock()
	v.entries = append(v.entries, Entry{
		Message: models.Message{
			ConversationID:   v.cfg.ConversationID,
			Sender:           v.cfg.Role,
			RecipientAddress: recipient,
			Body:             trimmed,
			CreatedAt:        time.Now().UTC(),
		},
		LocalID: localID,
		State:   StatePending,
	})
	v.mu.Unlock()

	message, err := v.api.Send(ctx, v.cfg.ConversationID, v.cfg.Role, trimmed, v.cfg.RecipientAddress)
	if err != nil {
		v.removeLocal(localID)
		return nil, err
	}

	v.confirmLocal(localID, *message)
	return message, nil
}

// Refresh reloads history and reconciles it with local state: authoritative
// rows win, still-pending optimistic copies survive. A reload issued before
// a send confirms therefore never loses or duplicates the message.
func (v *View) Refresh(ctx context.Context) error {
	history, err := v.api.History(ctx, v.cfg.ConversationID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pending := make([]Entry, 0)
	for _, entry := range v.entries {
		if entry.State == StatePending {
			pending = append(pending, entry)
		}
	}

	v.entries = v.entries[:0]
	v.seen = make(map[int64]struct{})
	for _, message := range history {
		v.insertLocked(message)
	}
	v.entries = append(v.entries, pending...)

	return nil
}

// Focus marks the window active: counterpart messages are marked read and
// the badge drops to zero immediately, without waiting for the next poll.
func (v *View) Focus(ctx context.Context) {
	v.mu.Lock()
	v.focused = true
	v.unread = 0
	v.mu.Unlock()

	v.markRead(ctx)
}

func (v *View) Blur() {
	v.mu.Lock()
	v.focused = false
	v.mu.Unlock()
}

// Close releases the subscription and stops the poller. Idempotent.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		if v.cancel != nil {
			v.cancel()
		}
		if v.sub != nil {
			v.sub.Close()
		}
	})
}

// Messages snapshots the rendered conversation in creation order, pending
// entries last.
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

func (v *View) Unread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread
}

func (v *View) Focused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focused
}

// PollOnly reports whether the view lost (or never had) its realtime feed.
func (v *View) PollOnly() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pollOnly
}

func (v *View) pump(sub Subscription) {
	for message := range sub.Events() {
		v.handleInsert(message)
	}

	// Channel dropped. Unread counts keep flowing through the poller.
	v.mu.Lock()
	alreadyClosed := v.closed
	v.pollOnly = true
	v.mu.Unlock()

	if !alreadyClosed {
		v.cfg.Logger.Warn().Msg("realtime feed dropped, polling only")
	}
}

func (v *View) handleInsert(message models.Message) {
	// Self-authored inserts are already on screen as the optimistic echo.
	// The hub filters these too; a view must not rely on that alone.
	if message.Sender == v.cfg.Role {
		return
	}

	v.mu.Lock()
	if _, dup := v.seen[message.ID]; dup {
		v.mu.Unlock()
		return
	}
	v.insertLocked(message)
	focused := v.focused
	if !focused {
		v.unread++
	}
	v.mu.Unlock()

	if v.cfg.OnInsert != nil {
		v.cfg.OnInsert(message)
	}
	if focused {
		v.markRead(context.Background())
	}
}

// insertLocked adds a confirmed message, keeping creation order among
// confirmed entries. Pending entries carry a local timestamp and stay where
// sorting puts them, which is the tail in practice.
func (v *View) insertLocked(message models.Message) {
	if _, dup := v.seen[message.ID]; dup {
		return
	}
	v.seen[message.ID] = struct{}{}
	v.entries = append(v.entries, Entry{Message: message, State: StateConfirmed})
	v.sortLocked()
}

func (v *View) sortLocked() {
	sort.SliceStable(v.entries, func(i, j int) bool {
		a, b := v.entries[i].Message, v.entries[j].Message
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (v *View) removeLocal(localID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, entry := range v.entries {
		if entry.LocalID == localID {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}

func (v *View) confirmLocal(localID string, message models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i, entry := range v.entries {
		if entry.LocalID != localID {
			continue
		}
		if _, dup := v.seen[message.ID]; dup {
			// A concurrent refresh already brought in the authoritative
			// row; the optimistic copy is redundant.
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
		v.seen[message.ID] = struct{}{}
		v.entries[i] = Entry{Message: message, LocalID: localID, State: StateConfirmed}
		// The authoritative timestamp can predate counterpart rows that
		// arrived while the send was in flight.
		v.sortLocked()
		return
	}
}

// markRead is best effort: a failure is logged and the next focus or poll
// cycle retries naturally.
func (v *View) markRead(ctx context.Context) {
	if err := v.api.MarkConversationRead(ctx, v.cfg.ConversationID, v.cfg.Role); err != nil {
		v.cfg.Logger.Warn().Err(err).Msg("mark read failed, will retry on next trigger")
		return
	}

	v.mu.Lock()
	if v.focused {
		v.unread = 0
	}
	v.mu.Unlock()
}

// poll keeps the badge fresh while the window is not focused. Poll and push
// both derive the same count from the store, so racing the feed is
// harmless.
func (v *View) poll(ctx context.Context) {
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if v.Focused() {
			continue
		}

		count, err := v.api.UnreadCount(ctx, v.cfg.ConversationID, v.cfg.Role)
		if err != nil {
			if ctx.Err() == nil {
				v.cfg.Logger.Warn().Err(err).Msg("unread poll failed")
			}
			continue
		}

		v.mu.Lock()
		if !v.focused {
			v.unread = count
		}
		v.mu.Unlock()
	}
}
