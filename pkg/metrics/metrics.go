package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	EndpointsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ztgate_endpoints_total",
			Help: "Registered endpoints by role",
		},
		[]string{"role"},
	)

	ZonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ztgate_zones_total",
			Help: "Authoritative private zones",
		},
	)

	RoutesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ztgate_routes_total",
			Help: "Service routes",
		},
	)

	// Resolver metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztgate_dns_queries_total",
			Help: "DNS queries by outcome",
		},
		[]string{"outcome"},
	)

	DNSForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ztgate_dns_forwarded_total",
			Help: "DNS queries forwarded to the public upstream",
		},
	)

	DNSForwardErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ztgate_dns_forward_errors_total",
			Help: "Upstream forward failures",
		},
	)

	// Proxy metrics
	TunnelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztgate_tunnels_total",
			Help: "Proxy connections by outcome",
		},
		[]string{"outcome"},
	)

	TunnelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ztgate_tunnels_active",
			Help: "Tunnels currently open",
		},
	)

	TunnelBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztgate_tunnel_bytes_total",
			Help: "Bytes copied through tunnels by direction",
		},
		[]string{"direction"},
	)

	// Admin API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztgate_api_requests_total",
			Help: "Administrative API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

// Resolver query outcomes
const (
	OutcomeAnswered  = "answered"
	OutcomeRefused   = "refused"
	OutcomeNXDomain  = "nxdomain"
	OutcomeForwarded = "forwarded"
	OutcomeFormErr   = "formerr"
	OutcomeServFail  = "servfail"
	OutcomeUnknownCN = "unknown_cn"
)

// Proxy connection outcomes
const (
	TunnelOpened       = "opened"
	TunnelUnknownCN    = "unknown_cn"
	TunnelNoHostname   = "no_hostname"
	TunnelUnauthorized = "unauthorized"
	TunnelNoRoute      = "no_route"
	TunnelDialFailed   = "dial_failed"
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EndpointsTotal)
	prometheus.MustRegister(ZonesTotal)
	prometheus.MustRegister(RoutesTotal)
	prometheus.MustRegister(DNSQueriesTotal)
	prometheus.MustRegister(DNSForwardedTotal)
	prometheus.MustRegister(DNSForwardErrors)
	prometheus.MustRegister(TunnelsTotal)
	prometheus.MustRegister(TunnelsActive)
	prometheus.MustRegister(TunnelBytes)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
