package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pdsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_pds_requests_total",
	Help: "Authenticated PDS requests, by XRPC method and HTTP status",
}, []string{"method", "status"})

var pdsNonceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_pds_nonce_retries_total",
	Help: "PDS requests retried after a resource server DPoP nonce challenge",
}, []string{"method"})
