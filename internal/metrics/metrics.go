package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventscrape"

// Run collects metrics for a single pipeline run on a private registry, so
// they can be written out as a node_exporter textfile when the job exits.
type Run struct {
	reg *prometheus.Registry

	pages       *prometheus.CounterVec
	pageEvents  *prometheus.CounterVec
	warnings    *prometheus.CounterVec
	events      *prometheus.GaugeVec
	duration    prometheus.Gauge
	success     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewRun creates and registers the run metrics.
func NewRun() *Run {
	r := &Run{reg: prometheus.NewRegistry()}

	r.pages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_fetched_total",
		Help:      "Search result pages fetched, by region",
	}, []string{"region"})
	r.pageEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "raw_events_total",
		Help:      "Raw events received from the search API, by region",
	}, []string{"region"})
	r.warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warnings_total",
		Help:      "Recoverable fetch failures, by kind",
	}, []string{"kind"})
	r.events = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events",
		Help:      "Events remaining after each pipeline stage",
	}, []string{"stage"})
	r.duration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run",
	})
	r.success = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_success",
		Help:      "1 if the last run wrote a success payload, 0 otherwise",
	})
	r.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run",
	})

	r.reg.MustRegister(r.pages, r.pageEvents, r.warnings, r.events, r.duration, r.success, r.lastSuccess)
	return r
}

// ObservePage implements eventbrite.PageObserver.
func (r *Run) ObservePage(region string, _ int, events int) {
	r.pages.WithLabelValues(region).Inc()
	r.pageEvents.WithLabelValues(region).Add(float64(events))
}

// ObserveWarnings counts warnings by their kind prefix.
func (r *Run) ObserveWarnings(warnings []string) {
	for _, w := range warnings {
		kind, _, _ := strings.Cut(w, ":")
		r.warnings.WithLabelValues(kind).Inc()
	}
}

// SetStage records how many events are left after stage.
func (r *Run) SetStage(stage string, n int) {
	r.events.WithLabelValues(stage).Set(float64(n))
}

// Finish records the outcome of the run.
func (r *Run) Finish(started, finished time.Time, ok bool) {
	r.duration.Set(finished.Sub(started).Seconds())
	if ok {
		r.success.Set(1)
		r.lastSuccess.Set(float64(finished.Unix()))
		return
	}
	r.success.Set(0)
}

// Gatherer exposes the registry.
func (r *Run) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes the metrics in text exposition format to path.
func (r *Run) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
