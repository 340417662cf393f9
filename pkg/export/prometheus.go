package export

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probeplot/probeplot-go/pkg/capture"
)

const metricsNamespace = "probeplot"

// PrometheusSink exposes session telemetry as Prometheus metrics.
type PrometheusSink struct {
	registry *prometheus.Registry

	// Value holds the latest observed value of each entry.
	// Labels: name, source (METRIC, GRAPH, SETTING)
	Value *prometheus.GaugeVec

	// LogRecordsTotal counts decoded log records.
	// Labels: channel, level (TRACE..ERROR)
	LogRecordsTotal *prometheus.CounterVec

	// WritesTotal counts setting writes.
	// Labels: name
	WritesTotal *prometheus.CounterVec

	// ErrorsTotal counts runtime errors.
	// Labels: phase
	ErrorsTotal *prometheus.CounterVec

	// State is 1 for the session's current state and 0 for the others.
	// Labels: state
	State *prometheus.GaugeVec
}

// NewPrometheusSink creates a sink registering its collectors on a private
// registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusSink{
		registry: reg,
		Value: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "value",
			Help:      "Latest value of a metric, graph or setting",
		}, []string{"name", "source"}),
		LogRecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "log",
			Name:      "records_total",
			Help:      "Total log records decoded from the target",
		}, []string{"channel", "level"}),
		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "setting",
			Name:      "writes_total",
			Help:      "Total setting values written to the target",
		}, []string{"name"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Total session errors by phase",
		}, []string{"phase"}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state",
		}, []string{"state"}),
	}
}

// Registry returns the registry holding the sink's collectors.
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler serving the sink's metrics.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Emit updates the metrics for one event.
func (p *PrometheusSink) Emit(event capture.Event) {
	switch {
	case event.Observation != nil:
		o := event.Observation
		p.Value.WithLabelValues(o.Name, o.Source.String()).Set(o.Value)
	case event.Log != nil:
		p.LogRecordsTotal.WithLabelValues(strconv.Itoa(event.Log.Channel), event.Log.Level.String()).Inc()
	case event.Write != nil:
		p.WritesTotal.WithLabelValues(event.Write.Name).Inc()
	case event.Error != nil:
		p.ErrorsTotal.WithLabelValues(event.Error.Phase).Inc()
	case event.StateChange != nil:
		if old := event.StateChange.OldState; old != "" {
			p.State.WithLabelValues(old).Set(0)
		}
		p.State.WithLabelValues(event.StateChange.NewState).Set(1)
	}
}

var _ capture.Sink = (*PrometheusSink)(nil)
