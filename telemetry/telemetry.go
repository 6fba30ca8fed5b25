package telemetry

import (
	"net/http"

	"github.com/arrowglass/ledgersink/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// Vec types for labeled metrics
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

type NoopStat struct{}

type noopCounterVec struct{}
type noopGaugeVec struct{}
type noopHistogramVec struct{}

func (n noopCounterVec) With(labels ...string) Counter     { return NoopStat{} }
func (n noopGaugeVec) With(labels ...string) Gauge         { return NoopStat{} }
func (n noopHistogramVec) With(labels ...string) Histogram { return NoopStat{} }

func (n NoopStat) Observe(float64) {}
func (n NoopStat) Set(float64)     {}
func (n NoopStat) Dec()            {}
func (n NoopStat) Sub(float64)     {}
func (n NoopStat) Inc()            {}
func (n NoopStat) Add(float64)     {}

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p *prometheusGaugeVec) With(labelValues ...string) Gauge {
	return p.vec.WithLabelValues(labelValues...)
}

type prometheusHistogramVec struct {
	vec *prometheus.HistogramVec
}

func (p *prometheusHistogramVec) With(labelValues ...string) Histogram {
	return p.vec.WithLabelValues(labelValues...)
}

func constLabels() map[string]string {
	return map[string]string{
		"instance_id": cfg.Config.InstanceID,
	}
}

func NewCounter(name string, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "ledgersink",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	})

	registry.MustRegister(ret)
	return ret
}

func NewGauge(name string, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "ledgersink",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	})

	registry.MustRegister(ret)
	return ret
}

func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}

	ret := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "ledgersink",
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels(),
	})

	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}

	ret := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "ledgersink",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels)

	registry.MustRegister(ret)
	return &prometheusCounterVec{vec: ret}
}

func NewGaugeVec(name, help string, labels []string) GaugeVec {
	if registry == nil {
		return noopGaugeVec{}
	}

	ret := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   "ledgersink",
		Name:        name,
		Help:        help,
		ConstLabels: constLabels(),
	}, labels)

	registry.MustRegister(ret)
	return &prometheusGaugeVec{vec: ret}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec{}
	}

	ret := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "ledgersink",
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: constLabels(),
	}, labels)

	registry.MustRegister(ret)
	return &prometheusHistogramVec{vec: ret}
}

// InitializeTelemetry creates the registry when Prometheus is enabled. Must be
// called before InitMetrics.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - served on the admin port at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics.
// Returns nil if Prometheus is not enabled.
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
