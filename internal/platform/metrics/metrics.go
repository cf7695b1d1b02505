// Package metrics owns the Prometheus registry shared by the gateway and the
// protocol client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	ProtocolRequests *prometheus.CounterVec
	ProtocolLatency  *prometheus.HistogramVec
	StoreFetches     *prometheus.CounterVec
	OptimisticAdds   prometheus.Counter
	ActiveScopes     prometheus.Gauge
	ActiveStores     prometheus.Gauge
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		ProtocolRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arctica",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Protocol API requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		ProtocolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arctica",
			Subsystem: "protocol",
			Name:      "request_duration_seconds",
			Help:      "Protocol API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arctica",
			Subsystem: "comments",
			Name:      "fetches_total",
			Help:      "Comment page fetches by mode and outcome.",
		}, []string{"mode", "outcome"}),
		OptimisticAdds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arctica",
			Subsystem: "comments",
			Name:      "optimistic_inserts_total",
			Help:      "Comments prepended locally after a successful submit.",
		}),
		ActiveScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arctica",
			Subsystem: "gateway",
			Name:      "active_scopes",
			Help:      "Open UI scopes.",
		}),
		ActiveStores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arctica",
			Subsystem: "gateway",
			Name:      "active_stores",
			Help:      "Mounted comment stores across all scopes.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ProtocolRequests,
		r.ProtocolLatency,
		r.StoreFetches,
		r.OptimisticAdds,
		r.ActiveScopes,
		r.ActiveStores,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
