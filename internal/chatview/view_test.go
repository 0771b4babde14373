package chatview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
)

// fakeAPI mirrors the server's chat semantics in memory.
type fakeAPI struct {
	mu            sync.Mutex
	nextID        int64
	messages      []models.Message
	sendErr       error
	markReadErr   error
	markReadCalls int

	// sendGate, when set, blocks Send after the row is committed but
	// before the response returns, to expose the pending window.
	sendGate chan struct{}
}

func (a *fakeAPI) Send(_ context.Context, conversationID int64, role models.SenderRole, body string, recipientAddress string) (*models.Message, error) {
	a.mu.Lock()
	if a.sendErr != nil {
		err := a.sendErr
		a.mu.Unlock()
		return nil, err
	}

	a.nextID++
	message := models.Message{
		ID:             a.nextID,
		ConversationID: conversationID,
		Sender:         role,
		Body:           body,
		CreatedAt:      time.Date(2026, 5, 1, 12, 0, 0, int(a.nextID), time.UTC),
	}
	if recipientAddress != "" {
		message.RecipientAddress = &recipientAddress
	}
	a.messages = append(a.messages, message)
	gate := a.sendGate
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return &message, nil
}

func (a *fakeAPI) History(_ context.Context, conversationID int64) ([]models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Message, 0)
	for _, message := range a.messages {
		if message.ConversationID == conversationID {
			out = append(out, message)
		}
	}
	return out, nil
}

func (a *fakeAPI) MarkConversationRead(_ context.Context, conversationID int64, role models.SenderRole) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.markReadCalls++
	if a.markReadErr != nil {
		return a.markReadErr
	}
	for i := range a.messages {
		if a.messages[i].ConversationID == conversationID &&
			a.messages[i].Sender == role.Counterpart() {
			a.messages[i].Read = true
		}
	}
	return nil
}

func (a *fakeAPI) UnreadCount(_ context.Context, conversationID int64, forRole models.SenderRole) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, message := range a.messages {
		if message.ConversationID == conversationID &&
			message.Sender != forRole &&
			!message.Read {
			count++
		}
	}
	return count, nil
}

func (a *fakeAPI) seed(conversationID int64, sender models.SenderRole, body string) models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	message := models.Message{
		ID:             a.nextID,
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
		CreatedAt:      time.Date(2026, 5, 1, 12, 0, 0, int(a.nextID), time.UTC),
	}
	a.messages = append(a.messages, message)
	return message
}

type fakeFeed struct {
	mu     sync.Mutex
	subErr error
	subs   []*fakeSub
}

type fakeSub struct {
	events chan models.Message
	closed bool
	mu     sync.Mutex
}

func (f *fakeFeed) Subscribe(int64, models.SenderRole) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subErr != nil {
		return nil, f.subErr
	}
	sub := &fakeSub{events: make(chan models.Message, 32)}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) push(message models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.events <- message
	}
}

func (f *fakeFeed) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		close(sub.events)
	}
	f.subs = nil
}

func (s *fakeSub) Events() <-chan models.Message { return s.events }

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func openClientView(t *testing.T, api *fakeAPI, feed *fakeFeed) *View {
	t.Helper()
	view := NewClientView(api, feed, 7, zerolog.Nop())
	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(view.Close)
	return view
}

func TestOpenLoadsHistoryInCreationOrder(t *testing.T) {
	api := &fakeAPI{}
	first := api.seed(7, models.RoleClient, "eins")
	second := api.seed(7, models.RoleCoach, "zwei")

	view := openClientView(t, api, &fakeFeed{})

	entries := view.Messages()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message.ID != first.ID || entries[1].Message.ID != second.ID {
		t.Fatalf("history out of order: %d then %d", entries[0].Message.ID, entries[1].Message.ID)
	}
	for _, entry := range entries {
		if entry.State != StateConfirmed {
			t.Fatalf("history entries must be confirmed")
		}
	}
}

func TestSendOptimisticEchoThenConfirmed(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{sendGate: gate}
	view := openClientView(t, api, &fakeFeed{})

	done := make(chan error, 1)
	go func() {
		_, err := view.Send(context.Background(), "Hallo Coach")
		done <- err
	}()

	// The echo is visible while the write is still in flight.
	waitFor(t, "pending entry", func() bool {
		entries := view.Messages()
		return len(entries) == 1 && entries[0].State == StatePending
	})
	pending := view.Messages()[0]
	if pending.LocalID == "" {
		t.Fatalf("pending entry needs a correlation id")
	}
	if pending.Message.ID != 0 {
		t.Fatalf("pending entry must not claim a server id")
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries := view.Messages()
	if len(entries) != 1 {
		t.Fatalf("confirmation must not duplicate the message, got %d entries", len(entries))
	}
	if entries[0].State != StateConfirmed || entries[0].Message.ID == 0 {
		t.Fatalf("expected confirmed entry with server id, got %+v", entries[0])
	}
	if entries[0].LocalID != pending.LocalID {
		t.Fatalf("authoritative row should replace the same local entry")
	}
}

func TestSendFailureRemovesOptimisticCopy(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("store unavailable")}
	view := openClientView(t, api, &fakeFeed{})

	if _, err := view.Send(context.Background(), "Hallo Coach"); err == nil {
		t.Fatalf("expected send error")
	}

	if entries := view.Messages(); len(entries) != 0 {
		t.Fatalf("failed send must disappear from the view, got %d entries", len(entries))
	}
	history, _ := api.History(context.Background(), 7)
	if len(history) != 0 {
		t.Fatalf("failed send must not be in history")
	}
}

func TestSendRejectsEmptyBody(t *testing.T) {
	api := &fakeAPI{}
	view := openClientView(t, api, &fakeFeed{})

	if _, err := view.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if entries := view.Messages(); len(entries) != 0 {
		t.Fatalf("empty send must not leave an entry")
	}
}

func TestIncomingDuplicatesAreIgnored(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	message := api.seed(7, models.RoleCoach, "zwei")
	feed.push(message)
	feed.push(message)

	waitFor(t, "incoming message", func() bool { return len(view.Messages()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if entries := view.Messages(); len(entries) != 1 {
		t.Fatalf("duplicate delivery must be suppressed, got %d entries", len(entries))
	}
}

func TestIncomingOwnRoleIsIgnored(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	marker := api.seed(7, models.RoleCoach, "marker")
	feed.push(api.seed(7, models.RoleClient, "self"))
	feed.push(marker)

	waitFor(t, "marker message", func() bool { return len(view.Messages()) >= 1 })
	entries := view.Messages()
	if len(entries) != 1 || entries[0].Message.ID != marker.ID {
		t.Fatalf("self-authored push must be ignored, got %+v", entries)
	}
}

func TestIncomingOutOfOrderIsResorted(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	older := api.seed(7, models.RoleCoach, "t1")
	newer := api.seed(7, models.RoleCoach, "t2")

	feed.push(newer)
	feed.push(older)

	waitFor(t, "both messages", func() bool { return len(view.Messages()) == 2 })
	entries := view.Messages()
	if entries[0].Message.ID != older.ID || entries[1].Message.ID != newer.ID {
		t.Fatalf("expected creation order [t1 t2], got [%s %s]", entries[0].Message.Body, entries[1].Message.Body)
	}
}

func TestConfirmReordersAgainstLaterCounterpartInsert(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{sendGate: gate}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	done := make(chan error, 1)
	go func() {
		_, err := view.Send(context.Background(), "eins")
		done <- err
	}()
	waitFor(t, "pending entry", func() bool { return len(view.Messages()) == 1 })

	// A counterpart row committed after ours arrives while the send
	// response is still in flight.
	later := api.seed(7, models.RoleCoach, "zwei")
	feed.push(later)
	waitFor(t, "counterpart entry", func() bool { return len(view.Messages()) == 2 })

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries := view.Messages()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// The authoritative timestamps put our send first.
	if entries[0].Message.ID != 1 || entries[1].Message.ID != later.ID {
		t.Fatalf("expected creation order [1 %d], got [%d %d]",
			later.ID, entries[0].Message.ID, entries[1].Message.ID)
	}
	if entries[0].State != StateConfirmed {
		t.Fatalf("confirmed send lost its state: %+v", entries[0])
	}
}

func TestRefreshReconcilesPendingWithHistory(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{sendGate: gate}
	view := openClientView(t, api, &fakeFeed{})

	done := make(chan error, 1)
	go func() {
		_, err := view.Send(context.Background(), "Hallo Coach")
		done <- err
	}()
	waitFor(t, "pending entry", func() bool { return len(view.Messages()) == 1 })

	// The row is already committed server-side; a reload races the
	// confirmation and must not end up showing the message twice.
	if err := view.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries := view.Messages()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry after reconciliation, got %d", len(entries))
	}
	if entries[0].State != StateConfirmed || entries[0].Message.ID == 0 {
		t.Fatalf("expected the authoritative row, got %+v", entries[0])
	}
}

func TestFocusMarksReadAndClearsBadge(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	feed.push(api.seed(7, models.RoleCoach, "zwei"))
	waitFor(t, "unread badge", func() bool { return view.Unread() == 1 })

	view.Focus(context.Background())
	if view.Unread() != 0 {
		t.Fatalf("focus must clear the badge, got %d", view.Unread())
	}
	count, _ := api.UnreadCount(context.Background(), 7, models.RoleClient)
	if count != 0 {
		t.Fatalf("focus must mark counterpart messages read, unread=%d", count)
	}

	// Focusing again with nothing unread changes nothing.
	view.Focus(context.Background())
	if count, _ = api.UnreadCount(context.Background(), 7, models.RoleClient); count != 0 {
		t.Fatalf("second focus must be a no-op, unread=%d", count)
	}
}

func TestIncomingWhileFocusedIsMarkedRead(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)
	view.Focus(context.Background())

	feed.push(api.seed(7, models.RoleCoach, "zwei"))

	waitFor(t, "mark read", func() bool {
		count, _ := api.UnreadCount(context.Background(), 7, models.RoleClient)
		return count == 0
	})
	if view.Unread() != 0 {
		t.Fatalf("focused view must not grow a badge, got %d", view.Unread())
	}
}

func TestMarkReadFailureIsSwallowed(t *testing.T) {
	api := &fakeAPI{markReadErr: errors.New("store unavailable")}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	view.Focus(context.Background())
	if calls := api.markReadCalls; calls != 1 {
		t.Fatalf("expected one mark read attempt, got %d", calls)
	}

	// The failure stays local; messages keep displaying.
	feed.push(api.seed(7, models.RoleCoach, "zwei"))
	waitFor(t, "message despite mark read failure", func() bool { return len(view.Messages()) == 1 })
}

func TestCoachViewMarksReadOnOpen(t *testing.T) {
	api := &fakeAPI{}
	api.seed(7, models.RoleClient, "Hallo Coach")

	view := NewCoachView(api, &fakeFeed{}, 7, "client@example.com", zerolog.Nop())
	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer view.Close()

	count, _ := api.UnreadCount(context.Background(), 7, models.RoleCoach)
	if count != 0 {
		t.Fatalf("coach open must mark client messages read, unread=%d", count)
	}
}

func TestClientViewKeepsUnreadUntilFocus(t *testing.T) {
	api := &fakeAPI{}
	api.seed(7, models.RoleCoach, "zwei")

	_ = openClientView(t, api, &fakeFeed{})

	count, _ := api.UnreadCount(context.Background(), 7, models.RoleClient)
	if count != 1 {
		t.Fatalf("client open must not mark read before focus, unread=%d", count)
	}
}

func TestPollerUpdatesBadgeWhileUnfocused(t *testing.T) {
	api := &fakeAPI{}
	view := New(api, &fakeFeed{}, Config{
		ConversationID: 7,
		Role:           models.RoleClient,
		PollInterval:   10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer view.Close()

	api.seed(7, models.RoleCoach, "eins")
	api.seed(7, models.RoleCoach, "zwei")

	waitFor(t, "badge from poller", func() bool { return view.Unread() == 2 })
}

func TestSubscribeFailureFallsBackToPolling(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{subErr: errors.New("channel dropped")}

	view := New(api, feed, Config{
		ConversationID: 7,
		Role:           models.RoleClient,
		PollInterval:   10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("Open must survive a dead feed: %v", err)
	}
	defer view.Close()

	if !view.PollOnly() {
		t.Fatalf("expected poll-only mode")
	}

	api.seed(7, models.RoleCoach, "eins")
	waitFor(t, "badge via polling", func() bool { return view.Unread() == 1 })
}

func TestFeedDropDegradesToPolling(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := New(api, feed, Config{
		ConversationID: 7,
		Role:           models.RoleClient,
		PollInterval:   10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err := view.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer view.Close()

	feed.drop()
	waitFor(t, "poll-only after drop", func() bool { return view.PollOnly() })

	api.seed(7, models.RoleCoach, "eins")
	waitFor(t, "badge via polling", func() bool { return view.Unread() == 1 })
}

func TestCloseReleasesSubscription(t *testing.T) {
	api := &fakeAPI{}
	feed := &fakeFeed{}
	view := openClientView(t, api, feed)

	view.Close()
	view.Close()

	feed.mu.Lock()
	defer feed.mu.Unlock()
	if len(feed.subs) != 1 {
		t.Fatalf("expected one subscription, got %d", len(feed.subs))
	}
	feed.subs[0].mu.Lock()
	closed := feed.subs[0].closed
	feed.subs[0].mu.Unlock()
	if !closed {
		t.Fatalf("close must release the subscription")
	}
}
