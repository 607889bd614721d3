package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the proxy. Adapted from
// the teacher's per-tenant Collector (internal/metrics/metrics.go):
// the connection-pool gauges and health-check histograms are kept
// verbatim in shape, relabeled from "tenant" to "segment"; the
// transaction-mode-pooling-specific counters (session pins, backend
// resets, dirty disconnects) are dropped since this proxy doesn't do
// transaction-mode pooling, and replaced with session/command/
// prepared-statement gauges from spec.md's supplemented metrics
// surface.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	segmentHealth      *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec

	sessionsActive         prometheus.Gauge
	preparedStatementCount prometheus.Gauge
	commandsTotal          *prometheus.CounterVec
	commandDuration        *prometheus.HistogramVec
	acquireDuration        *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics using a custom
// registry. Safe to call multiple times (e.g. in tests or on config
// reload) — each call creates an independent registry that doesn't
// conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbmeshproxy_connections_active",
				Help: "Number of active backend connections per segment",
			},
			[]string{"segment"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbmeshproxy_connections_idle",
				Help: "Number of idle backend connections per segment",
			},
			[]string{"segment"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbmeshproxy_connections_total",
				Help: "Total number of backend connections per segment",
			},
			[]string{"segment"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbmeshproxy_connections_waiting",
				Help: "Number of goroutines waiting for a backend connection per segment",
			},
			[]string{"segment"},
		),
		segmentHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbmeshproxy_segment_health",
				Help: "Health status of a backend segment (1=healthy, 0=unhealthy)",
			},
			[]string{"segment"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbmeshproxy_pool_exhausted_total",
				Help: "Total number of times a segment's pool was exhausted",
			},
			[]string{"segment"},
		),

		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbmeshproxy_health_check_duration_seconds",
				Help:    "Duration of segment health check probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"segment", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbmeshproxy_health_check_errors_total",
				Help: "Health check errors by type",
			},
			[]string{"segment", "error_type"},
		),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbmeshproxy_sessions_active",
			Help: "Number of client sessions currently connected",
		}),
		preparedStatementCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbmeshproxy_prepared_statements",
			Help: "Total prepared statements cached across all sessions",
		}),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbmeshproxy_commands_total",
				Help: "Commands dispatched by command type",
			},
			[]string{"command"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbmeshproxy_command_duration_seconds",
				Help:    "Duration from command dispatch to response written",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"command"},
		),
		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbmeshproxy_acquire_duration_seconds",
				Help:    "Time spent waiting for pool.Acquire()",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"segment"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.segmentHealth,
		c.poolExhausted,
		c.healthCheckDuration,
		c.healthCheckErrors,
		c.sessionsActive,
		c.preparedStatementCount,
		c.commandsTotal,
		c.commandDuration,
		c.acquireDuration,
	)

	return c
}

// SetSegmentHealth sets the health gauge for a segment.
func (c *Collector) SetSegmentHealth(segment string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.segmentHealth.WithLabelValues(segment).Set(val)
}

// PoolExhausted increments the pool exhausted counter for a segment.
func (c *Collector) PoolExhausted(segment string) {
	c.poolExhausted.WithLabelValues(segment).Inc()
}

// UpdatePoolStats updates the pool gauge metrics from a Stats snapshot.
func (c *Collector) UpdatePoolStats(segment string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(segment).Set(float64(active))
	c.connectionsIdle.WithLabelValues(segment).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(segment).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(segment).Set(float64(waiting))
}

// HealthCheckCompleted records a health check probe duration and result.
func (c *Collector) HealthCheckCompleted(segment string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(segment, status).Observe(d.Seconds())
}

// HealthCheckError records a health check error by type.
func (c *Collector) HealthCheckError(segment, errorType string) {
	c.healthCheckErrors.WithLabelValues(segment, errorType).Inc()
}

// SessionOpened/SessionClosed track the live session-count gauge.
func (c *Collector) SessionOpened() { c.sessionsActive.Inc() }
func (c *Collector) SessionClosed() { c.sessionsActive.Dec() }

// SetPreparedStatementCount sets the cross-session prepared-statement
// cache-size gauge.
func (c *Collector) SetPreparedStatementCount(n int) {
	c.preparedStatementCount.Set(float64(n))
}

// CommandDispatched records a completed command dispatch and its
// duration, keyed by the human-readable command name (e.g. "query",
// "stmt_execute").
func (c *Collector) CommandDispatched(command string, d time.Duration) {
	c.commandsTotal.WithLabelValues(command).Inc()
	c.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// AcquireDuration observes the time spent waiting for a segment pool
// connection.
func (c *Collector) AcquireDuration(segment string, d time.Duration) {
	c.acquireDuration.WithLabelValues(segment).Observe(d.Seconds())
}

// RemoveSegment removes all metrics series for a segment dropped from
// the topology.
func (c *Collector) RemoveSegment(segment string) {
	c.connectionsActive.DeleteLabelValues(segment)
	c.connectionsIdle.DeleteLabelValues(segment)
	c.connectionsTotal.DeleteLabelValues(segment)
	c.connectionsWaiting.DeleteLabelValues(segment)
	c.segmentHealth.DeleteLabelValues(segment)
	c.poolExhausted.DeleteLabelValues(segment)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"segment": segment})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"segment": segment})
	c.acquireDuration.DeleteLabelValues(segment)
}
