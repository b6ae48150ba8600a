// Package metrics collects client-side Prometheus metrics for the session,
// habit sync, realtime and gateway layers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh results.
const (
	RefreshOK        = "ok"
	RefreshError     = "error"
	RefreshDiscarded = "discarded"
)

// RealtimeForeign labels events dropped because they belong to another user.
const RealtimeForeign = "foreign"

// Recorder is the metrics surface consumed by the client components.
type Recorder interface {
	SessionTransition(status string)
	Refresh(result string)
	RealtimeEvent(kind string)
	SubscriptionOpened()
	SubscriptionClosed()
	GatewayRequest(method string, duration time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SessionTransition(string)             {}
func (Nop) Refresh(string)                       {}
func (Nop) RealtimeEvent(string)                 {}
func (Nop) SubscriptionOpened()                  {}
func (Nop) SubscriptionClosed()                  {}
func (Nop) GatewayRequest(string, time.Duration) {}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	transitions   *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	events        *prometheus.CounterVec
	subscriptions prometheus.Gauge
	requests      *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitkeeper_session_transitions_total",
			Help: "Session state transitions by resulting status.",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitkeeper_refresh_total",
			Help: "Habit snapshot refreshes by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitkeeper_realtime_events_total",
			Help: "Realtime change events by classified kind.",
		}, []string{"kind"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "habitkeeper_realtime_subscriptions",
			Help: "Currently open realtime subscriptions.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "habitkeeper_gateway_request_duration_seconds",
			Help:    "Gateway request latency by HTTP method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.transitions,
		c.refreshes,
		c.events,
		c.subscriptions,
		c.requests,
	)

	return c
}

func (c *Collector) SessionTransition(status string) {
	c.transitions.WithLabelValues(status).Inc()
}

func (c *Collector) Refresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

func (c *Collector) RealtimeEvent(kind string) {
	c.events.WithLabelValues(kind).Inc()
}

func (c *Collector) SubscriptionOpened() {
	c.subscriptions.Inc()
}

func (c *Collector) SubscriptionClosed() {
	c.subscriptions.Dec()
}

func (c *Collector) GatewayRequest(method string, duration time.Duration) {
	c.requests.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
