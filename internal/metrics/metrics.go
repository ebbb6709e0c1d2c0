// Package metrics holds the Prometheus collectors shared by Gossip and
// the connection manager.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles every metric the overlay exposes.
type Collectors struct {
	PeerCount           prometheus.Gauge
	TempConnections     prometheus.Gauge
	DialsTotal          *prometheus.CounterVec // label: outcome=success|failure
	BroadcastsTotal     *prometheus.CounterVec // label: content_type
	PeerRejectionsTotal *prometheus.CounterVec // label: reason
	HealthCountdown     prometheus.Gauge
}

var (
	once       sync.Once
	collectors *Collectors
)

// New returns the process-wide Collectors singleton, registering it with the
// default Prometheus registry on first call.
func New() *Collectors {
	once.Do(func() {
		collectors = &Collectors{
			PeerCount: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "gossip",
				Name:      "peer_count",
				Help:      "Number of currently registered peers.",
			}),
			TempConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "gossip",
				Name:      "temp_connections",
				Help:      "Number of connections authorized but not yet promoted to peer.",
			}),
			DialsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gossip",
				Name:      "dials_total",
				Help:      "Outbound dial attempts by outcome.",
			}, []string{"outcome"}),
			BroadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gossip",
				Name:      "broadcasts_total",
				Help:      "Broadcast messages sent, by content type.",
			}, []string{"content_type"}),
			PeerRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gossip",
				Name:      "peer_rejections_total",
				Help:      "register_peer rejections, by reason.",
			}, []string{"reason"}),
			HealthCountdown: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "gossip",
				Name:      "health_countdown",
				Help:      "Reconciliation ticks remaining before an unhealthy-peer-count restart signal.",
			}),
		}
	})
	return collectors
}
