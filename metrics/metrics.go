// Package metrics instruments a BoligPing run. Each run gets its own
// registry; batch runs export it in the node_exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one run.
type Metrics struct {
	reg *prometheus.Registry

	// Scraping
	PagesFetched   *prometheus.CounterVec
	RecordsSkipped prometheus.Counter
	ListingsTotal  prometheus.Gauge
	ListingsFound  prometheus.Gauge

	// Reconciliation
	ListingsNew     prometheus.Gauge
	ListingsMatched prometheus.Gauge
	JournalWrites   prometheus.Counter

	// Delivery
	NotificationsSent *prometheus.CounterVec

	RunDuration      prometheus.Gauge
	LastRunTimestamp *prometheus.GaugeVec
}

// New registers the run collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		PagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boligping_pages_fetched_total",
				Help: "Result pages requested from the listing source",
			},
			[]string{"source"},
		),
		RecordsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boligping_records_skipped_total",
				Help: "Result records that could not be parsed into a listing",
			},
		),
		ListingsTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boligping_listings_reported_total",
				Help: "Total number of results reported by the source",
			},
		),
		ListingsFound: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boligping_listings_found",
				Help: "Distinct listings fetched across all pages",
			},
		),
		ListingsNew: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boligping_listings_new",
				Help: "Listings not yet sent to any recipient",
			},
		),
		ListingsMatched: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boligping_listings_matched",
				Help: "New listings passing the fee and keyword filter",
			},
		),
		JournalWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boligping_journal_entries_written_total",
				Help: "Entries appended to the notification journal",
			},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boligping_notifications_total",
				Help: "Notifications attempted per provider and outcome",
			},
			[]string{"provider", "status"},
		),
		RunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boligping_run_duration_seconds",
				Help: "Wall time of the last run",
			},
		),
		LastRunTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "boligping_last_run_timestamp_seconds",
				Help: "Unix time the last run finished, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the run's registry, e.g. for a push gateway.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
