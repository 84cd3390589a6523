// Package metrics exposes pool and connection activity as Prometheus
// collectors. The collector subscribes to the advisory pool and connection
// notifications; it observes topology, it never drives it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glimte/tether-go/supervisor"
)

// Collector tracks pool membership and recovery activity. It implements
// supervisor.ChangeListener and supervisor.StateListener.
type Collector struct {
	pool *supervisor.Pool

	aliveConnections prometheus.Gauge
	deadConnections  prometheus.Gauge
	reconnects       prometheus.Counter
	failures         prometheus.Counter
}

// NewCollector creates a collector, registers its metrics with reg, and
// subscribes it to pool membership changes. Pass nil to register with the
// default registerer.
func NewCollector(pool *supervisor.Pool, reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		pool: pool,
		aliveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tether_pool_alive_connections",
			Help: "Number of connections currently in the alive set.",
		}),
		deadConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tether_pool_dead_connections",
			Help: "Number of connections currently in the dead set.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_reconnect_attempts_total",
			Help: "Total reconnect attempts across all connections.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_connection_failures_total",
			Help: "Total connections retired after exhausting their retry budget.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.aliveConnections,
		c.deadConnections,
		c.reconnects,
		c.failures,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}

	pool.AddChangeListener(c)
	return c, nil
}

// OnPoolChange refreshes the membership gauges from the pool census.
func (c *Collector) OnPoolChange(ev supervisor.ChangeEvent) {
	alive, dead := c.pool.Stats()
	c.aliveConnections.Set(float64(alive))
	c.deadConnections.Set(float64(dead))
}

// OnConnected implements supervisor.StateListener.
func (c *Collector) OnConnected(guid string) {}

// OnReconnecting counts a reconnect attempt.
func (c *Collector) OnReconnecting(guid string, attempt int) {
	c.reconnects.Inc()
}

// OnFailure counts a retired connection.
func (c *Collector) OnFailure(guid string, err error) {
	c.failures.Inc()
}
