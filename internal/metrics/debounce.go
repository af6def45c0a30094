package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
)

var (
	debounceKeys = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "debounce", "keys"),
		"sensors with pending updates",
		nil,
		nil,
	)
	debouncePending = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "debounce", "pending_updates"),
		"updates waiting for their window to close",
		nil,
		nil,
	)
	debounceArmed = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "debounce", "armed_timers"),
		"armed debounce timers",
		nil,
		nil,
	)
)

// debounceCollector samples the debouncer once per scrape.
type debounceCollector struct {
	stats func() debounce.Stats
}

func (c debounceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- debounceKeys
	ch <- debouncePending
	ch <- debounceArmed
}

func (c debounceCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(debounceKeys, prometheus.GaugeValue, float64(s.Keys))
	ch <- prometheus.MustNewConstMetric(debouncePending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(debounceArmed, prometheus.GaugeValue, float64(s.Armed))
}
