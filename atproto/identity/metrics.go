package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var handleResolution = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_identity_resolve_handle",
	Help: "Handle resolutions",
}, []string{"status"})

var didResolution = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_identity_resolve_did",
	Help: "DID document resolutions",
}, []string{"method", "status"})

var resolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "skylinks_identity_resolve_duration",
	Help:    "Time to resolve a handle or DID",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 10, 15),
}, []string{"kind"})

var identityCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_identity_cache",
	Help: "Identity cache hits and misses",
}, []string{"result"})

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
