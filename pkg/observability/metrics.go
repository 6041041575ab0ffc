package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsClient is the metrics surface every component may optionally use.
// A nil MetricsClient passed to a constructor should be replaced with
// NewNoopMetricsClient(); callers that want real metrics use
// NewPrometheusMetricsClient.
type MetricsClient interface {
	RecordHistogram(name string, value float64, labels map[string]string)
	IncrementCounter(name string, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	// StartTimer returns a func that records the elapsed time as a histogram
	// named name+"_duration_seconds" when invoked.
	StartTimer(name string, labels map[string]string) func()
	Close() error
}

type promMetrics struct {
	registry    *prometheus.Registry
	histograms  map[string]*prometheus.HistogramVec
	counters    map[string]*prometheus.CounterVec
	gauges      map[string]*prometheus.GaugeVec
	labelsByKey map[string][]string
}

// NewPrometheusMetricsClient creates a MetricsClient backed by a dedicated
// prometheus.Registry. Metric families are created lazily on first use,
// keyed by name alone, with the label names taken from the first call for
// that name, so a caller never needs to predeclare
// every metric name and label set up front.
func NewPrometheusMetricsClient() MetricsClient {
	return &promMetrics{
		registry:    prometheus.NewRegistry(),
		histograms:  make(map[string]*prometheus.HistogramVec),
		counters:    make(map[string]*prometheus.CounterVec),
		gauges:      make(map[string]*prometheus.GaugeVec),
		labelsByKey: make(map[string][]string),
	}
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}

func (p *promMetrics) RecordHistogram(name string, value float64, labels map[string]string) {
	h, ok := p.histograms[name]
	if !ok {
		keys := labelKeys(labels)
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: name,
			Help: name,
		}, keys)
		p.registry.MustRegister(h)
		p.histograms[name] = h
		p.labelsByKey[name] = keys
	}
	h.With(prometheus.Labels(labels)).Observe(value)
}

func (p *promMetrics) IncrementCounter(name string, labels map[string]string) {
	c, ok := p.counters[name]
	if !ok {
		keys := labelKeys(labels)
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: name,
		}, keys)
		p.registry.MustRegister(c)
		p.counters[name] = c
		p.labelsByKey[name] = keys
	}
	c.With(prometheus.Labels(labels)).Inc()
}

func (p *promMetrics) RecordGauge(name string, value float64, labels map[string]string) {
	g, ok := p.gauges[name]
	if !ok {
		keys := labelKeys(labels)
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, keys)
		p.registry.MustRegister(g)
		p.gauges[name] = g
		p.labelsByKey[name] = keys
	}
	g.With(prometheus.Labels(labels)).Set(value)
}

func (p *promMetrics) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		p.RecordHistogram(name+"_duration_seconds", time.Since(start).Seconds(), labels)
	}
}

func (p *promMetrics) Close() error { return nil }

// noopMetrics discards everything.
type noopMetrics struct{}

// NewNoopMetricsClient returns a MetricsClient that does nothing.
func NewNoopMetricsClient() MetricsClient { return noopMetrics{} }

func (noopMetrics) RecordHistogram(string, float64, map[string]string) {}
func (noopMetrics) IncrementCounter(string, map[string]string)         {}
func (noopMetrics) RecordGauge(string, float64, map[string]string)     {}
func (noopMetrics) StartTimer(string, map[string]string) func()        { return func() {} }
func (noopMetrics) Close() error                                       { return nil }
