package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
)

const namespace = "vista"

// Collector exports client telemetry to Prometheus. Each Metrics key becomes
// a label on one of three vectors depending on how it is recorded.
type Collector struct {
	gatherer prometheus.Gatherer

	Counters  *prometheus.CounterVec
	Gauges    *prometheus.GaugeVec
	Latencies *prometheus.HistogramVec
}

var _ telemetry.Metrics = (*Collector)(nil)

// NewCollector registers the client metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	counters, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Client events by key.",
	}, []string{"key"}), "events_total")
	if err != nil {
		return nil, err
	}
	gauges, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "state",
		Help:      "Current client state values by key.",
	}, []string{"key"}), "state")
	if err != nil {
		return nil, err
	}
	latencies, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "latency_seconds",
		Help:      "Client latency samples in seconds by key.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"key"}), "latency_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:  gatherer,
		Counters:  counters,
		Gauges:    gauges,
		Latencies: latencies,
	}, nil
}

// Add increments the counter for key.
func (c *Collector) Add(key string, delta uint64) {
	if c == nil || c.Counters == nil {
		return
	}
	c.Counters.WithLabelValues(key).Add(float64(delta))
}

// Store sets the gauge for key.
func (c *Collector) Store(key string, value uint64) {
	if c == nil || c.Gauges == nil {
		return
	}
	c.Gauges.WithLabelValues(key).Set(float64(value))
}

// Observe records a latency sample for key.
func (c *Collector) Observe(key string, seconds float64) {
	if c == nil || c.Latencies == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	c.Latencies.WithLabelValues(key).Observe(seconds)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C, name string) (C, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return collector, nil
}
