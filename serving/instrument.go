package serving

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

const (
	metricsNamespace = "goforest"
	metricsSubsystem = "serving"
)

type engineMetrics struct {
	requests *prometheus.CounterVec
	examples *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// instrumentedEngine records the activity of an engine.
type instrumentedEngine struct {
	Engine
	metrics *engineMetrics
}

// Instrument wraps e so that every Predict call is counted and timed on
// reg. Metrics carry an "engine" label; several engines can share a
// registry.
func Instrument(e Engine, reg prometheus.Registerer) (Engine, error) {
	if e == nil {
		return nil, errors.Wrap(errors.ErrUnboundModel, "no engine to instrument")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"engine"}
	m := &engineMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "predict_requests_total",
			Help:      "Number of Predict calls.",
		}, labels),
		examples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "predicted_examples_total",
			Help:      "Number of examples predicted.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "predict_errors_total",
			Help:      "Number of failed Predict calls.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "predict_duration_seconds",
			Help:      "Duration of Predict calls.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, labels),
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.examples, err = register(reg, m.examples); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, m.failures); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	return &instrumentedEngine{Engine: e, metrics: m}, nil
}

// register returns the collector already registered under the same
// description, if any.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "registering serving metrics")
	}
	return c, nil
}

func (e *instrumentedEngine) Predict(ds *dataset.VerticalDataset) (*mat.Dense, error) {
	name := e.Engine.Name()
	start := time.Now()
	out, err := e.Engine.Predict(ds)
	e.metrics.latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	e.metrics.requests.WithLabelValues(name).Inc()
	if err != nil {
		e.metrics.failures.WithLabelValues(name).Inc()
		return nil, err
	}
	if ds != nil {
		e.metrics.examples.WithLabelValues(name).Add(float64(ds.NumRows()))
	}
	return out, nil
}
