package metrics

import (
	"net/url"
	"regexp"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics exposes counters/histograms for the Kommo webhook pipeline.
type PipelineMetrics struct {
	eventsTotal    *prometheus.CounterVec
	eventLatency   *prometheus.HistogramVec
	webhookTotal   *prometheus.CounterVec
	kommoRetries   *prometheus.CounterVec
	documentsTotal *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalops",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Lead status events processed, by outcome",
		}, []string{"outcome"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rentalops",
			Subsystem: "webhook",
			Name:      "event_latency_seconds",
			Help:      "Latency of a single lead status event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalops",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Inbound Kommo webhook deliveries, by response status",
		}, []string{"status"}),
		kommoRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalops",
			Subsystem: "kommo",
			Name:      "retries_total",
			Help:      "Kommo API requests retried after a transient failure",
		}, []string{"route", "status"}),
		documentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentalops",
			Subsystem: "documents",
			Name:      "sync_total",
			Help:      "Kommo files handled by document sync, by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.eventLatency, m.webhookTotal, m.kommoRetries, m.documentsTotal)
	return m
}

func (m *PipelineMetrics) ObserveEvent(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(outcome).Inc()
	m.eventLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *PipelineMetrics) ObserveWebhook(status int) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveKommoRetry records a retry; status 0 means a transport error.
func (m *PipelineMetrics) ObserveKommoRetry(path string, status int) {
	if m == nil {
		return
	}
	m.kommoRetries.WithLabelValues(RouteLabel(path), strconv.Itoa(status)).Inc()
}

func (m *PipelineMetrics) ObserveDocumentSync(result string) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(result).Inc()
}

var idSegment = regexp.MustCompile(`/(\d+|[0-9a-fA-F]{8}-[0-9a-fA-F-]{27,})(/|$)`)

// RouteLabel strips host, query and ids from a request path so the label set
// stays bounded.
func RouteLabel(path string) string {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		path = u.Path
	}
	for {
		next := idSegment.ReplaceAllString(path, "/:id$2")
		if next == path {
			return path
		}
		path = next
	}
}
