package realtime

import (
	"github.com/DorianValentino/eliteshred-dashboard/internal/metrics"
	"github.com/DorianValentino/eliteshred-dashboard/internal/models"
)

const subscriptionBuffer = 32

// Hub fans newly appended messages out to per-conversation subscriptions.
// All bookkeeping happens on the Run goroutine; Subscribe, Close and
// Publish only exchange messages with it over channels.
type Hub struct {
	subscribe   chan *Subscription
	unsubscribe chan *Subscription
	publish     chan models.Message
	stop        chan struct{}

	subscriptions map[int64]map[*Subscription]struct{}
}

// Subscription is one party's feed of counterpart inserts into a single
// conversation. Events preserve store-commit order. The channel is closed
// when the subscription is released or dropped for falling behind.
type Subscription struct {
	hub            *Hub
	conversationID int64
	role           models.SenderRole
	events         chan models.Message
}

func NewHub() *Hub {
	return &Hub{
		subscribe:     make(chan *Subscription),
		unsubscribe:   make(chan *Subscription),
		publish:       make(chan models.Message, 64),
		stop:          make(chan struct{}),
		subscriptions: make(map[int64]map[*Subscription]struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.subscribe:
			set, ok := h.subscriptions[sub.conversationID]
			if !ok {
				set = make(map[*Subscription]struct{})
				h.subscriptions[sub.conversationID] = set
			}
			set[sub] = struct{}{}
			metrics.ActiveSubscriptions.Inc()
		case sub := <-h.unsubscribe:
			h.remove(sub)
		case message := <-h.publish:
			h.deliver(message)
		case <-h.stop:
			for _, set := range h.subscriptions {
				for sub := range set {
					close(sub.events)
					metrics.ActiveSubscriptions.Dec()
				}
			}
			h.subscriptions = make(map[int64]map[*Subscription]struct{})
			return
		}
	}
}

// Stop shuts the run loop down and closes every open subscription.
func (h *Hub) Stop() {
	close(h.stop)
}

// Subscribe registers a feed for one open conversation view. Messages
// authored by role itself are filtered out before delivery: the sender's
// view already shows them as its optimistic echo.
func (h *Hub) Subscribe(conversationID int64, role models.SenderRole) *Subscription {
	sub := &Subscription{
		hub:            h,
		conversationID: conversationID,
		role:           role,
		events:         make(chan models.Message, subscriptionBuffer),
	}
	select {
	case h.subscribe <- sub:
	case <-h.stop:
		// A stopped hub hands back an already-closed feed so the caller
		// takes its poll-only fallback instead of blocking here.
		close(sub.events)
	}
	return sub
}

// Publish notifies subscribers of a committed insert. Called once per
// successful store append, in commit order. After Stop it is a no-op.
func (h *Hub) Publish(message models.Message) {
	select {
	case h.publish <- message:
	case <-h.stop:
	}
}

func (h *Hub) deliver(message models.Message) {
	set, ok := h.subscriptions[message.ConversationID]
	if !ok {
		return
	}

	for sub := range set {
		if sub.role == message.Sender {
			continue
		}
		select {
		case sub.events <- message:
			metrics.MessagesDelivered.Inc()
		default:
			// A subscriber that stopped draining must not stall the loop.
			delete(set, sub)
			close(sub.events)
			metrics.ActiveSubscriptions.Dec()
			metrics.SubscribersDropped.Inc()
		}
	}
	if len(set) == 0 {
		delete(h.subscriptions, message.ConversationID)
	}
}

func (h *Hub) remove(sub *Subscription) {
	set, ok := h.subscriptions[sub.conversationID]
	if !ok {
		return
	}
	if _, exists := set[sub]; exists {
		delete(set, sub)
		close(sub.events)
		metrics.ActiveSubscriptions.Dec()
	}
	if len(set) == 0 {
		delete(h.subscriptions, sub.conversationID)
	}
}

// Events yields counterpart inserts in commit order. The channel closing
// means the feed is gone and the consumer should fall back to polling.
func (s *Subscription) Events() <-chan models.Message {
	return s.events
}

// Close releases the subscription. Safe to call after the hub already
// dropped it.
func (s *Subscription) Close() {
	select {
	case s.hub.unsubscribe <- s:
	case <-s.hub.stop:
	}
}
