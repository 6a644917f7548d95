package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

var _ types.MetricsManager = (*PrometheusMetrics)(nil)

type PrometheusMetrics struct {
	logger     types.Logger
	config     *types.MetricsConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

// NewPrometheusMetrics builds a private registry. A nil config gives an
// unnamespaced registry, which is what tests use.
func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) *PrometheusMetrics {
	if config == nil {
		config = &types.MetricsConfig{}
	}

	registry := prometheus.NewRegistry()
	if config.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	logger.Debug("Prometheus metrics initialized",
		zap.String("namespace", config.Namespace),
		zap.String("subsystem", config.Subsystem),
		zap.Bool("go_metrics", config.EnableGoMetrics))

	return &PrometheusMetrics{
		logger:     logger,
		config:     config,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

// Counter returns the series for labels, creating the vector on first use.
// Every call for one name must use the same label keys.
func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if counter, exists := p.counters[name]; exists {
		return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
	}

	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Counter metric %s", name),
			ConstLabels: p.config.Labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(counter)
	p.counters[name] = counter

	return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gauge, exists := p.gauges[name]; exists {
		return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Gauge metric %s", name),
			ConstLabels: p.config.Labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(gauge)
	p.gauges[name] = gauge

	return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if histogram, exists := p.histograms[name]; exists {
		return &PrometheusHistogram{histogram: histogram, labels: labels}
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Histogram metric %s", name),
			Buckets:     buckets,
			ConstLabels: p.config.Labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(histogram)
	p.histograms[name] = histogram

	return &PrometheusHistogram{histogram: histogram, labels: labels}
}

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c *PrometheusCounter) Inc() {
	c.counter.With(c.labels).Inc()
}

func (c *PrometheusCounter) Add(value float64) {
	c.counter.With(c.labels).Add(value)
}

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.counter.With(c.labels).Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g *PrometheusGauge) Set(value float64) {
	g.gauge.With(g.labels).Set(value)
}

func (g *PrometheusGauge) Inc() {
	g.gauge.With(g.labels).Inc()
}

func (g *PrometheusGauge) Dec() {
	g.gauge.With(g.labels).Dec()
}

func (g *PrometheusGauge) Add(value float64) {
	g.gauge.With(g.labels).Add(value)
}

func (g *PrometheusGauge) Sub(value float64) {
	g.gauge.With(g.labels).Sub(value)
}

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.gauge.With(g.labels).Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.histogram.With(h.labels).Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.histogram.With(h.labels).Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	if hist := h.read(); hist != nil {
		return hist.GetSampleCount()
	}
	return 0
}

func (h *PrometheusHistogram) GetSum() float64 {
	if hist := h.read(); hist != nil {
		return hist.GetSampleSum()
	}
	return 0
}

func (h *PrometheusHistogram) read() *dto.Histogram {
	metric := &dto.Metric{}
	promMetric, ok := h.histogram.With(h.labels).(prometheus.Metric)
	if !ok {
		return nil
	}
	if err := promMetric.Write(metric); err != nil {
		return nil
	}
	return metric.GetHistogram()
}
