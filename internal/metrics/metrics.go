// Package metrics provides the Prometheus-backed implementation of
// msqlsrv.Metrics used by cmd/msqlsrv-demo, built the same way the teacher
// proxy's own Collector is: an independent registry per Collector, gauge/
// counter/histogram vectors, constructible repeatedly in tests without
// colliding on the default global registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements msqlsrv.Metrics (conn.go) on top of a dedicated
// Prometheus registry (SPEC_FULL.md §4.I).
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	authFailuresTotal prometheus.Counter
}

// New creates a Collector and registers its metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msqlsrv_connections_active",
			Help: "Number of currently open client connections",
		}),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msqlsrv_connections_total",
				Help: "Total connections accepted, labeled by how they ended",
			},
			[]string{"result"},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msqlsrv_commands_total",
				Help: "Total commands dispatched, labeled by opcode and result",
			},
			[]string{"opcode", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msqlsrv_command_duration_seconds",
				Help:    "Time spent handling one command, from dispatch to reply",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"opcode"},
		),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msqlsrv_auth_failures_total",
			Help: "Total handshakes rejected by the credential checker",
		}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.commandsTotal,
		c.commandDuration,
		c.authFailuresTotal,
	)

	return c
}

// ConnectionOpened implements msqlsrv.Metrics.
func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

// ConnectionClosed implements msqlsrv.Metrics.
func (c *Collector) ConnectionClosed(err error) {
	c.connectionsActive.Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.connectionsTotal.WithLabelValues(result).Inc()
}

// CommandHandled implements msqlsrv.Metrics.
func (c *Collector) CommandHandled(opcode byte, dur time.Duration, err error) {
	label := opcodeLabel(opcode)
	result := "ok"
	if err != nil {
		result = "err"
	}
	c.commandsTotal.WithLabelValues(label, result).Inc()
	c.commandDuration.WithLabelValues(label).Observe(dur.Seconds())
}

// AuthFailed implements msqlsrv.Metrics.
func (c *Collector) AuthFailed(reason string) {
	c.authFailuresTotal.Inc()
}

func opcodeLabel(opcode byte) string {
	switch opcode {
	case 0x01:
		return "quit"
	case 0x02:
		return "init_db"
	case 0x03:
		return "query"
	case 0x0e:
		return "ping"
	case 0x16:
		return "stmt_prepare"
	case 0x17:
		return "stmt_execute"
	case 0x18:
		return "stmt_send_long_data"
	case 0x19:
		return "stmt_close"
	case 0x1a:
		return "stmt_reset"
	case 0x1d:
		return "stmt_fetch"
	default:
		return fmt.Sprintf("0x%02x", opcode)
	}
}
