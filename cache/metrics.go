package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports Cache statistics to Prometheus.
type Collector struct {
	cache *Cache

	size         *prometheus.Desc
	maxSize      *prometheus.Desc
	pending      *prometheus.Desc
	healthyRatio *prometheus.Desc
	requests     *prometheus.Desc
	fetches      *prometheus.Desc
	fallbacks    *prometheus.Desc
	failures     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for c, metrics are prefixed by namespace.
func NewCollector(c *Cache, namespace string) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}

	return &Collector{
		cache:        c,
		size:         desc("entries", "Number of cached entries."),
		maxSize:      desc("max_entries", "Number of entries above which eviction starts."),
		pending:      desc("pending_loads", "Number of in-flight tile loads."),
		healthyRatio: desc("healthy_ratio", "Fraction of cached entries not in error."),
		requests:     desc("requests_total", "Tile requests by result.", "result"),
		fetches:      desc("fetches_total", "Upstream tile fetches."),
		fallbacks:    desc("fallbacks_total", "Loads retried against the default provider."),
		failures:     desc("failures_total", "Loads that ended with an unavailable tile."),
	}
}

func (m *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.size
	ch <- m.maxSize
	ch <- m.pending
	ch <- m.healthyRatio
	ch <- m.requests
	ch <- m.fetches
	ch <- m.fallbacks
	ch <- m.failures
}

func (m *Collector) Collect(ch chan<- prometheus.Metric) {
	s := m.cache.Stats()

	ch <- prometheus.MustNewConstMetric(m.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(m.maxSize, prometheus.GaugeValue, float64(s.MaxSize))
	ch <- prometheus.MustNewConstMetric(m.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(m.healthyRatio, prometheus.GaugeValue, s.HealthyRatio)
	ch <- prometheus.MustNewConstMetric(m.requests, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(m.requests, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(m.requests, prometheus.CounterValue, float64(s.Coalesced), "coalesced")
	ch <- prometheus.MustNewConstMetric(m.fetches, prometheus.CounterValue, float64(s.Fetches))
	ch <- prometheus.MustNewConstMetric(m.fallbacks, prometheus.CounterValue, float64(s.Fallbacks))
	ch <- prometheus.MustNewConstMetric(m.failures, prometheus.CounterValue, float64(s.Failures))
}
