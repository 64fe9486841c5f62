// Package metrics counts what a batch run did and exports it as a Prometheus
// textfile for the node exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

// Record outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeAmbiguous = "ambiguous"
	OutcomeSkipped   = "skipped"
)

// Geocode results. Failure kinds are used as-is for the rest.
const (
	GeocodeResolved = "resolved"
	GeocodeCacheHit = "cache_hit"
)

// Metrics holds the collectors of one run on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Records     *prometheus.CounterVec
	Geocodes    *prometheus.CounterVec
	LastSuccess prometheus.Gauge
	Duration    prometheus.Gauge
}

// New registers the run collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donorgeo_records_total",
			Help: "Incoming records by reconciliation outcome",
		}, []string{"outcome"}),
		Geocodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "donorgeo_geocode_total",
			Help: "Geocode resolutions by result",
		}, []string{"result"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "donorgeo_last_success_timestamp_seconds",
			Help: "Unix time of the last run that committed its outputs",
		}),
		Duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "donorgeo_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
	}
}

// Record counts one incoming record.
func (m *Metrics) Record(outcome string) {
	m.Records.WithLabelValues(outcome).Inc()
}

// Geocode counts one geocode resolution.
func (m *Metrics) Geocode(result string) {
	m.Geocodes.WithLabelValues(result).Inc()
}

// Succeeded stamps a committed run.
func (m *Metrics) Succeeded(at time.Time, took time.Duration) {
	m.LastSuccess.Set(float64(at.Unix()))
	m.Duration.Set(took.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile writes the collectors in text exposition format. The file is
// replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return eris.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}
