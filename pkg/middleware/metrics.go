package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/mirror/pkg/protocol"
	"github.com/vango-dev/mirror/pkg/push"
	"github.com/vango-dev/mirror/pkg/server"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "mirror").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for invocation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the invocation duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "mirror",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is a server.Observer that records Prometheus metrics.
//
// Metrics collected:
//   - mirror_uis_active: Gauge of open UIs
//   - mirror_uis_opened_total: Counter of created UIs
//   - mirror_uis_closed_total: Counter of closed UIs by reason
//   - mirror_invocations_total: Counter of client invocations by type and status
//   - mirror_invocation_duration_seconds: Histogram of invocation handling time
//   - mirror_messages_sent_total: Counter of server messages by kind (response or push)
//   - mirror_changes_sent_total: Counter of tree changes sent
//   - mirror_message_bytes: Histogram of encoded message size
//   - mirror_pushed_messages_total: Counter of push deliveries by transport
//   - mirror_push_disconnects_total: Counter of push disconnects by transport
//   - mirror_resyncs_total: Counter of full resynchronizations
//   - mirror_responses_resent_total: Counter of responses replayed from cache
//
// Example:
//
//	metrics := middleware.Prometheus(middleware.WithNamespace("myapp"))
//	m := server.NewManager(cfg, server.WithObserver(metrics))
//	http.Handle("/metrics", promhttp.Handler())
type Metrics struct {
	uisActive          prometheus.Gauge
	uisOpened          prometheus.Counter
	uisClosed          *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	messagesSent       *prometheus.CounterVec
	changesSent        prometheus.Counter
	messageBytes       prometheus.Histogram
	pushed             *prometheus.CounterVec
	disconnects        *prometheus.CounterVec
	resyncs            prometheus.Counter
	resent             prometheus.Counter
}

var _ server.Observer = (*Metrics)(nil)

// Prometheus creates the collectors and registers them with the
// configured registry. It panics if they are already registered there.
func Prometheus(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		uisActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "uis_active",
			Help:        "Number of open UIs",
			ConstLabels: config.ConstLabels,
		}),
		uisOpened: counter("uis_opened_total", "Total number of UIs created"),
		uisClosed: counterVec("uis_closed_total", "Total number of UIs closed by reason", "reason"),
		invocationsTotal: counterVec("invocations_total",
			"Total number of client invocations handled", "type", "status"),
		invocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "invocation_duration_seconds",
			Help:        "Client invocation handling duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"type"}),
		messagesSent: counterVec("messages_sent_total", "Total number of server messages sent", "kind"),
		changesSent:  counter("changes_sent_total", "Total number of tree changes sent to clients"),
		messageBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "message_bytes",
			Help:        "Encoded server message size in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
		}),
		pushed:      counterVec("pushed_messages_total", "Total number of messages pushed by transport", "transport"),
		disconnects: counterVec("push_disconnects_total", "Total number of push disconnects by transport", "transport"),
		resyncs:     counter("resyncs_total", "Total number of full resynchronizations sent"),
		resent:      counter("responses_resent_total", "Total number of responses replayed for duplicate client messages"),
	}
}

func (m *Metrics) UIOpened() {
	m.uisOpened.Inc()
	m.uisActive.Inc()
}

func (m *Metrics) UIClosed(reason server.CloseReason) {
	m.uisClosed.WithLabelValues(string(reason)).Inc()
	m.uisActive.Dec()
}

func (m *Metrics) InvocationHandled(t protocol.InvocationType, d time.Duration, err error) {
	m.invocationDuration.WithLabelValues(string(t)).Observe(d.Seconds())
	m.invocationsTotal.WithLabelValues(string(t), invocationStatus(err)).Inc()
}

func (m *Metrics) MessageSent(changes, bytes int, async bool) {
	kind := "response"
	if async {
		kind = "push"
	}
	m.messagesSent.WithLabelValues(kind).Inc()
	m.changesSent.Add(float64(changes))
	m.messageBytes.Observe(float64(bytes))
}

func (m *Metrics) MessagePushed(t push.Transport, _ int) {
	m.pushed.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) Disconnected(t push.Transport) {
	m.disconnects.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) Resynchronized() { m.resyncs.Inc() }

func (m *Metrics) ResponseResent() { m.resent.Inc() }

// invocationStatus returns a low-cardinality label for an invocation
// outcome.
func invocationStatus(err error) string {
	if err == nil {
		return "success"
	}
	var ie *server.InvocationError
	if errors.As(err, &ie) && ie.Panic != nil {
		return "panic"
	}
	return "error"
}
