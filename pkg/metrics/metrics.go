// Package metrics defines the Prometheus collectors exported for
// operational observability, following the teacher's pattern of
// package-level collectors registered in an init func
// (pkg/goprobe/writeout/metrics.go).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tlsflow"

var (
	// PacketsMalformed counts packets pkg/wire.Decode rejected.
	PacketsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_malformed_total",
		Help:      "Packets dropped during wire decode due to malformed framing",
	})

	// FlowsActive reports the number of live entries across every
	// context's flow table.
	FlowsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "flows_active",
		Help:      "Flow records currently held in the flow tables",
	})

	// FlowsExpired counts flow records removed by idle/preemptive/RST
	// expiration.
	FlowsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_expired_total",
		Help:      "Flow records removed from the flow tables since start",
	})

	// FlowsEvicted counts flow records removed early by the
	// high-water-mark LRU eviction policy.
	FlowsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flows_evicted_total",
		Help:      "Flow records evicted under memory pressure before natural expiry",
	})

	// TLSHandshakeBufferOverflows counts flows whose handshake exceeded
	// the capped accumulation buffer.
	TLSHandshakeBufferOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tls",
		Name:      "handshake_buffer_overflows_total",
		Help:      "TLS handshakes that exceeded the capped reassembly buffer",
	})

	// TLSCertificateParseFailures counts certificates crypto/x509 could
	// not parse.
	TLSCertificateParseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tls",
		Name:      "certificate_parse_failures_total",
		Help:      "X.509 certificates that failed to parse out of a handshake",
	})

	// SinkErrors counts output write failures.
	SinkErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Errors writing finalized flow records to the output sink",
	})
)

func init() {
	prometheus.MustRegister(
		PacketsMalformed,
		FlowsActive,
		FlowsExpired,
		FlowsEvicted,
		TLSHandshakeBufferOverflows,
		TLSCertificateParseFailures,
		SinkErrors,
	)
}
