// Package metrics exposes sync engine counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	merges        *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	pushEvents    *prometheus.CounterVec
	sends         *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	pending       *prometheus.GaugeVec
	sessions      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "merges_total",
			Help:      "Timeline merges by input kind and whether the timeline changed.",
		}, []string{"input", "changed"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "fetch_failures_total",
			Help:      "Failed snapshot polls by feed.",
		}, []string{"feed"}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "push_events_total",
			Help:      "Push events received by type and whether they belonged to the open conversation.",
		}, []string{"type", "accepted"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Outgoing messages by kind and result.",
		}, []string{"kind", "result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "uploads_total",
			Help:      "Voice note uploads by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "upload_bytes_total",
			Help:      "Bytes of voice notes uploaded successfully.",
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "pending_messages",
			Help:      "Optimistic entries awaiting confirmation, per peer.",
		}, []string{"peer"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "open_sessions",
			Help:      "Conversation sessions currently open.",
		}),
	}
	m.reg.MustRegister(
		m.merges, m.fetchFailures, m.pushEvents, m.sends,
		m.uploads, m.uploadBytes, m.pending, m.sessions,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Merge(input string, changed bool) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(input, strconv.FormatBool(changed)).Inc()
}

func (m *Metrics) FetchFailed(feed string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(feed).Inc()
}

func (m *Metrics) PushEvent(eventType string, accepted bool) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(eventType, strconv.FormatBool(accepted)).Inc()
}

func (m *Metrics) Sent(kind, result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Upload(result string, bytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
	if result == "ok" && bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) SetPending(peer string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(peer).Set(float64(n))
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed(peer string) {
	if m == nil {
		return
	}
	m.sessions.Dec()
	m.pending.DeleteLabelValues(peer)
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
