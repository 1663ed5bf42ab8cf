package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat sync service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_sessions",
			Help: "Number of active websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket session events.",
		},
		[]string{"event"},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_subscription_reconnects_total",
			Help: "Total number of room subscription reconnect attempts.",
		},
	)
	subscriptionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_subscriptions",
			Help: "Number of room subscriptions per connection status.",
		},
		[]string{"status"},
	)
	presenceEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_entries",
			Help: "Number of tracked presence entries across rooms.",
		},
	)
	typingBroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_typing_broadcasts_total",
			Help: "Typing start/stop broadcasts published.",
		},
		[]string{"kind"},
	)
	publishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_transport_publish_errors_total",
			Help: "Total number of realtime transport publish errors.",
		},
	)
	searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_search_duration_seconds",
			Help:    "Full-text search latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	optimisticRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_optimistic_rollbacks_total",
			Help: "Optimistic sends rolled back after a failed confirmation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveSessions,
		wsEventsTotal,
		reconnectsTotal,
		subscriptionStatus,
		presenceEntries,
		typingBroadcastsTotal,
		publishErrorsTotal,
		searchDuration,
		optimisticRollbacksTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive()                { wsActiveSessions.Inc() }
func DecWSActive()                { wsActiveSessions.Dec() }
func IncWSEvent(event string)     { wsEventsTotal.WithLabelValues(event).Inc() }
func IncReconnect()               { reconnectsTotal.Inc() }
func IncPublishError()            { publishErrorsTotal.Inc() }
func IncOptimisticRollback()      { optimisticRollbacksTotal.Inc() }
func SetPresenceEntries(n int)    { presenceEntries.Set(float64(n)) }
func IncTypingBroadcast(k string) { typingBroadcastsTotal.WithLabelValues(k).Inc() }

// SetSubscriptionStatus moves one subscription between status buckets.
func SetSubscriptionStatus(from, to string) {
	if from != "" {
		subscriptionStatus.WithLabelValues(from).Dec()
	}
	if to != "" {
		subscriptionStatus.WithLabelValues(to).Inc()
	}
}

// ObserveSearchDuration records one search latency.
func ObserveSearchDuration(d time.Duration) {
	searchDuration.Observe(d.Seconds())
}
