package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Prediction outcome label values
const (
	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// MetricsObserver exports prediction events as Prometheus metrics
type MetricsObserver struct {
	predictions *prometheus.CounterVec
	duration    prometheus.Histogram
	inProgress  prometheus.Gauge
}

// NewMetricsObserver creates the collectors and registers them with reg
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plant_predictions_total",
				Help: "Prediction requests by outcome.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plant_inference_duration_seconds",
				Help:    "Wall time of classifier invocations, including time queued for a slot.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		inProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plant_predictions_in_progress",
				Help: "Validated predictions queued for or running a classifier invocation.",
			},
		),
	}

	for _, c := range []prometheus.Collector{o.predictions, o.duration, o.inProgress} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// OnEvent handles prediction events by updating metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	switch event.EventType {
	case PredictionStarted:
		o.inProgress.Inc()
	case PredictionCompleted:
		o.inProgress.Dec()
		o.duration.Observe(event.Duration.Seconds())
		outcome := OutcomeSuccess
		if degraded, _ := event.Metadata["degraded"].(bool); degraded {
			outcome = OutcomeDegraded
		}
		o.predictions.WithLabelValues(outcome).Inc()
	case PredictionFailed:
		o.inProgress.Dec()
		o.duration.Observe(event.Duration.Seconds())
		o.predictions.WithLabelValues(OutcomeFailed).Inc()
	case PredictionRejected:
		o.predictions.WithLabelValues(OutcomeRejected).Inc()
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}
