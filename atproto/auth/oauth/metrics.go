package oauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var oauthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_oauth_requests_total",
	Help: "Requests to OAuth authorization server endpoints, by operation and HTTP status",
}, []string{"op", "status"})

var dpopNonceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_dpop_nonce_retries_total",
	Help: "Requests retried after a DPoP nonce challenge",
}, []string{"op"})

var flowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skylinks_oauth_flow_transitions_total",
	Help: "OAuth login flow state transitions",
}, []string{"state"})
