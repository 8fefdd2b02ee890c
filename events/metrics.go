package events

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/outofforest/blockpool/blocks"
)

// MetricsObserver counts notifications in prometheus counters.
type MetricsObserver struct {
	allocated  *prometheus.CounterVec
	registered prometheus.Counter
	matched    prometheus.Counter
	evicted    prometheus.Counter
}

// NewMetricsObserver returns new metrics observer with its counters
// registered in reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockpool",
			Name:      "blocks_allocated_total",
			Help:      "Number of blocks handed out as exclusive handles.",
		}, []string{"tier"}),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockpool",
			Name:      "blocks_registered_total",
			Help:      "Number of blocks installed in the registry.",
		}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockpool",
			Name:      "blocks_matched_total",
			Help:      "Number of shared handles served from the registry.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockpool",
			Name:      "blocks_evicted_total",
			Help:      "Number of registered blocks reclaimed for new allocations.",
		}),
	}

	for _, c := range []prometheus.Collector{o.allocated, o.registered, o.matched, o.evicted} {
		if err := reg.Register(c); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return o, nil
}

// BlockAllocated implements Observer.
func (o *MetricsObserver) BlockAllocated(id blocks.ID, tier blocks.Tier) {
	o.allocated.WithLabelValues(tier.String()).Inc()
}

// BlockRegistered implements Observer.
func (o *MetricsObserver) BlockRegistered(id blocks.ID, fp blocks.Fingerprint) {
	o.registered.Inc()
}

// BlockMatched implements Observer.
func (o *MetricsObserver) BlockMatched(id blocks.ID, fp blocks.Fingerprint) {
	o.matched.Inc()
}

// BlockEvicted implements Observer.
func (o *MetricsObserver) BlockEvicted(id blocks.ID, fp blocks.Fingerprint) {
	o.evicted.Inc()
}
