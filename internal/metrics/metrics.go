package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages appended to the store",
		},
		[]string{"sender"},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_delivered_total",
			Help: "Realtime notifications handed to subscribers",
		},
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_subscribers_dropped_total",
			Help: "Subscriptions dropped for not keeping up with delivery",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_subscriptions",
			Help: "Currently registered realtime subscriptions",
		},
	)

	MarkReadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_mark_read_failures_total",
			Help: "Bulk read-state updates that failed and were left for retry",
		},
	)

	UnreadQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_unread_queries_total",
			Help: "Unread-count lookups, mostly badge polling",
		},
	)
)
