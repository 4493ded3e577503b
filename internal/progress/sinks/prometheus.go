package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/storefront-coordinator/internal/progress"
)

// PrometheusSink exports coordination metrics. It owns all collectors for
// product acceptance, stall recovery, and artifact forwarding.
type PrometheusSink struct {
	productsAccepted *prometheus.CounterVec
	productsRejected *prometheus.CounterVec
	nudges           *prometheus.CounterVec
	timeouts         *prometheus.CounterVec
	artifactForwards *prometheus.CounterVec
	artifactDrops    *prometheus.CounterVec
	forwardDuration  prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		productsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_products_accepted_total",
			Help: "Products accepted against the run quota, partitioned by store.",
		}, []string{"store"}),
		productsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_products_rejected_total",
			Help: "Products rejected by the selection or quota filters.",
		}, []string{"store"}),
		nudges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_store_nudges_total",
			Help: "Forced progress increments applied to stalled stores.",
		}, []string{"store"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_store_timeouts_total",
			Help: "Visiting stores force-completed by the hard timeout.",
		}, []string{"store"}),
		artifactForwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_artifacts_forwarded_total",
			Help: "Artifacts forwarded to downstream collaborators.",
		}, []string{"store"}),
		artifactDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_artifacts_dropped_total",
			Help: "Artifacts dropped after downstream failures.",
		}, []string{"store"}),
		forwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_artifact_forward_duration_seconds",
			Help:    "Latency of downstream artifact forwarding.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.productsAccepted,
		s.productsRejected,
		s.nudges,
		s.timeouts,
		s.artifactForwards,
		s.artifactDrops,
		s.forwardDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register coordination collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	store := evt.StoreID
	if store == "" {
		store = "unknown"
	}
	switch evt.Stage {
	case progress.StageProductAccepted:
		s.productsAccepted.WithLabelValues(store).Add(float64(evt.Count))
	case progress.StageProductRejected:
		s.productsRejected.WithLabelValues(store).Add(float64(max(evt.Count, 1)))
	case progress.StageNudge:
		s.nudges.WithLabelValues(store).Inc()
	case progress.StageTimeout:
		s.timeouts.WithLabelValues(store).Inc()
	case progress.StageArtifactForward:
		s.artifactForwards.WithLabelValues(store).Inc()
		if evt.Dur > 0 {
			s.forwardDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageArtifactDropped:
		s.artifactDrops.WithLabelValues(store).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
