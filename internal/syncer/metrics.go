package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_sync_items_total",
	Help: "Candidate links processed by the sync worker, by outcome",
}, []string{"result"})

var cyclesRun = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_sync_cycles_total",
	Help: "Sync worker cycles, by outcome",
}, []string{"result"})

var cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "skylinks_sync_cycle_duration_seconds",
	Help:    "Duration of sync worker cycles",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
})
