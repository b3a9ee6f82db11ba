package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// stateSource is implemented by *authgate.Gateway. Sources without it export no gauges.
type stateSource interface {
	RefreshState() authgate.RefreshState
	QueueLen() int
}

// PrometheusExporter serves gateway metrics through a private client_golang registry.
type PrometheusExporter struct {
	collector *collector
	registry  *prom.Registry
}

// NewPrometheusExporter creates an exporter that reads from gw.
func NewPrometheusExporter(gw *authgate.Gateway) *PrometheusExporter {
	return NewPrometheusExporterFromSource(gw)
}

// NewPrometheusExporterFromSource creates an exporter from any metrics source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	c := newCollector(source)
	reg := prom.NewRegistry()
	reg.MustRegister(c)
	return &PrometheusExporter{collector: c, registry: reg}
}

// Collector returns the underlying collector for use with another registry.
func (p *PrometheusExporter) Collector() prom.Collector {
	return p.collector
}

// Registry returns the exporter's private registry.
func (p *PrometheusExporter) Registry() *prom.Registry {
	return p.registry
}

// Handler returns an http.Handler that serves the private registry.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

type collector struct {
	source metricsSource
	state  stateSource

	counters     []*prom.Desc
	histograms   []*prom.Desc
	auditDropped *prom.Desc
	refreshing   *prom.Desc
	queueLen     *prom.Desc
}

func newCollector(source metricsSource) *collector {
	c := &collector{
		source:     source,
		counters:   make([]*prom.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*prom.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: prom.NewDesc(
			"authgate_audit_dropped_total",
			"Audit events dropped because the dispatcher buffer was full.",
			nil, nil,
		),
	}
	for i, def := range internaldefs.CounterDefs {
		c.counters[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		c.histograms[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	if s, ok := source.(stateSource); ok && s != nil {
		c.state = s
		c.refreshing = prom.NewDesc("authgate_refresh_in_flight", "1 while a refresh episode is in flight.", nil, nil)
		c.queueLen = prom.NewDesc("authgate_refresh_queue_length", "Callers waiting on the current refresh episode.", nil, nil)
	}
	return c
}

func (c *collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.auditDropped
	if c.state != nil {
		ch <- c.refreshing
		ch <- c.queueLen
	}
}

func (c *collector) Collect(ch chan<- prom.Metric) {
	if c.source == nil {
		return
	}

	if c.state != nil {
		var inFlight float64
		if c.state.RefreshState() == authgate.RefreshRefreshing {
			inFlight = 1
		}
		ch <- prom.MustNewConstMetric(c.refreshing, prom.GaugeValue, inFlight)
		ch <- prom.MustNewConstMetric(c.queueLen, prom.GaugeValue, float64(c.state.QueueLen()))
	}

	snapshot := c.source.MetricsSnapshot()
	dropped := c.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for i, def := range internaldefs.CounterDefs {
		ch <- prom.MustNewConstMetric(c.counters[i], prom.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[j]
		}
		// Sum is not tracked by the gateway.
		ch <- prom.MustNewConstHistogram(c.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prom.MustNewConstMetric(c.auditDropped, prom.CounterValue, float64(dropped))
}
