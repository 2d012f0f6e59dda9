package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector of the process. Nothing is registered
// globally; callers receive the registry by injection.
type Registry struct {
	registry *prometheus.Registry

	// Publisher
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	publisherState  *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec

	// Consumer
	consumeTotal *prometheus.CounterVec

	// Broadcaster
	broadcastSends *prometheus.CounterVec
	observers      prometheus.Gauge

	// Recorder
	activityTotal   *prometheus.CounterVec
	dispatchDropped prometheus.Counter

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	startTime prometheus.Gauge
}

// Publisher states exported through the state gauge.
var publisherStates = []string{"disabled", "connecting", "connected", "degraded", "closed"}

func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_publish_total",
				Help: "Total number of envelope publish attempts",
			},
			[]string{"topic", "status"}, // status: success, error
		),
		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_publish_duration_seconds",
				Help:    "Time spent sending an envelope to the broker",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		publisherState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "activity_publisher_state",
				Help: "Current publisher state (1 for the active state)",
			},
			[]string{"state"},
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_broker_connect_attempts_total",
				Help: "Broker connection attempts made by the publisher",
			},
			[]string{"status"},
		),

		consumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_consumed_total",
				Help: "Messages handled by the admin consumer",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		broadcastSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_broadcast_sends_total",
				Help: "Per-observer broadcast sends",
			},
			[]string{"status"}, // status: success, error
		),
		observers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "activity_observers_connected",
				Help: "Admin observers currently registered",
			},
		),

		activityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_records_total",
				Help: "Activities recorded, by type and outcome",
			},
			[]string{"type", "status"}, // status: published, persisted, error
		),
		dispatchDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "activity_dispatch_dropped_total",
				Help: "Activities dropped because the dispatch queue was full or closed",
			},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "activity_start_time_seconds",
				Help: "Unix timestamp when the process started",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publisherState,
		r.connectAttempts,
		r.consumeTotal,
		r.broadcastSends,
		r.observers,
		r.activityTotal,
		r.dispatchDropped,
		r.httpRequests,
		r.httpDuration,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

func (r *Registry) RecordPublish(topic string, duration time.Duration, err error) {
	r.publishTotal.WithLabelValues(topic, status(err)).Inc()
	r.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// SetPublisherState marks state as the only active publisher state.
func (r *Registry) SetPublisherState(state string) {
	for _, s := range publisherStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.publisherState.WithLabelValues(s).Set(v)
	}
}

func (r *Registry) RecordConnectAttempt(err error) {
	r.connectAttempts.WithLabelValues(status(err)).Inc()
}

func (r *Registry) RecordConsume(topic string, err error) {
	r.consumeTotal.WithLabelValues(topic, status(err)).Inc()
}

func (r *Registry) RecordBroadcastSend(err error) {
	r.broadcastSends.WithLabelValues(status(err)).Inc()
}

func (r *Registry) SetObservers(n int) {
	r.observers.Set(float64(n))
}

// RecordActivity counts one recorder outcome for an activity type.
func (r *Registry) RecordActivity(activityType, outcome string) {
	r.activityTotal.WithLabelValues(activityType, outcome).Inc()
}

func (r *Registry) RecordDispatchDropped() {
	r.dispatchDropped.Inc()
}

func (r *Registry) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
