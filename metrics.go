package comysql

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a small struct of pre-registered collectors, following
// JeelKantaria-db-bouncer/internal/metrics/metrics.go's pattern: a
// Conn with no Metrics attached simply skips the Inc() calls (see
// connection.go/resultset.go), so instrumentation is opt-in rather than a
// hard dependency of every Conn.
type Metrics struct {
	commandsTotal   prometheus.Counter
	rowsTotal       prometheus.Counter
	packetsRead     prometheus.Counter
	packetsWritten  prometheus.Counter
	commandDuration prometheus.Histogram
}

// NewMetrics registers this package's collectors on reg and returns a
// Metrics ready to attach to one or more Conns via Conn.WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comysql_commands_total",
			Help: "Number of COM_QUERY commands issued.",
		}),
		rowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comysql_resultset_rows_total",
			Help: "Number of result-set rows decoded.",
		}),
		packetsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comysql_packets_read_total",
			Help: "Number of physical packets read from the wire.",
		}),
		packetsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comysql_packets_written_total",
			Help: "Number of physical packets written to the wire.",
		}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "comysql_command_duration_seconds",
			Help:    "Latency of a COM_QUERY, from write to the OK/ERR packet or to the end of the field descriptors.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.commandsTotal, m.rowsTotal, m.packetsRead, m.packetsWritten, m.commandDuration)
	return m
}

// startTimer returns a function that observes the elapsed time on h when
// called, the way prometheus.NewTimer is normally used, kept as a plain
// closure here so Conn.Query doesn't need the extra prometheus type when
// metrics are disabled.
func startTimer(h prometheus.Histogram) func() {
	start := time.Now()
	return func() { h.Observe(time.Since(start).Seconds()) }
}
