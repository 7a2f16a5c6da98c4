package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IncomingEvents      *prometheus.CounterVec
	OutgoingMessages    *prometheus.CounterVec
	BackendRequests     *prometheus.CounterVec
	BackendLatency      *prometheus.HistogramVec
	CheckoutTransitions *prometheus.CounterVec
	OrdersSubmitted     *prometheus.CounterVec
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = newMetrics(namespace)
		prometheus.MustRegister(metricsInstance.collectors()...)
	})
	return metricsInstance
}

// NewUnregistered builds a fresh collector set that is not attached to any registry.
func NewUnregistered(namespace string) *Metrics {
	return newMetrics(namespace)
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		IncomingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_events_total",
			Help:      "Total inbound chat events processed.",
		}, []string{"platform", "type"}),
		OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outgoing_messages_total",
			Help:      "Total outgoing chat messages sent or edited.",
		}, []string{"platform", "type"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total backend API requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Latency distribution for backend API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		CheckoutTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transitions_total",
			Help:      "Checkout steps entered.",
		}, []string{"step"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Order submissions by outcome.",
		}, []string{"outcome"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.IncomingEvents,
		m.OutgoingMessages,
		m.BackendRequests,
		m.BackendLatency,
		m.CheckoutTransitions,
		m.OrdersSubmitted,
		m.Errors,
	}
}

// IncError bumps the error counter for component. Safe on a nil receiver.
func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}

// IncCheckout records entry into a checkout step. Safe on a nil receiver.
func (m *Metrics) IncCheckout(step string) {
	if m == nil {
		return
	}
	m.CheckoutTransitions.WithLabelValues(step).Inc()
}

// IncOrder records an order submission outcome. Safe on a nil receiver.
func (m *Metrics) IncOrder(outcome string) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.WithLabelValues(outcome).Inc()
}

// IncIncoming records an inbound event. Safe on a nil receiver.
func (m *Metrics) IncIncoming(platform, kind string) {
	if m == nil {
		return
	}
	m.IncomingEvents.WithLabelValues(platform, kind).Inc()
}

// IncOutgoing records an outbound message. Safe on a nil receiver.
func (m *Metrics) IncOutgoing(platform, kind string) {
	if m == nil {
		return
	}
	m.OutgoingMessages.WithLabelValues(platform, kind).Inc()
}
