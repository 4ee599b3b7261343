package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DripsMetrics instruments the ledger's mutation surface.
type DripsMetrics struct {
	streamsSet      prometheus.Counter
	cyclesReceived  prometheus.Counter
	amountsReceived *prometheus.CounterVec
	splitsApplied   prometheus.Counter
	collected       prometheus.Counter
	rpcRequests     *prometheus.CounterVec
}

var (
	dripsOnce     sync.Once
	dripsRegistry *DripsMetrics
)

// Drips returns the process-wide ledger metrics registry.
func Drips() *DripsMetrics {
	dripsOnce.Do(func() {
		dripsRegistry = &DripsMetrics{
			streamsSet: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drips_streams_set_total",
				Help: "Count of applied streams configuration changes.",
			}),
			cyclesReceived: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drips_cycles_received_total",
				Help: "Count of settlement cycles realized by receivers.",
			}),
			amountsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drips_amounts_received_total",
				Help: "Realized streamed amounts by realization path.",
			}, []string{"path"}),
			splitsApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drips_splits_applied_total",
				Help: "Count of splittable balances pushed through the splits graph.",
			}),
			collected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drips_collections_total",
				Help: "Count of collectable balance withdrawals.",
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drips_rpc_requests_total",
				Help: "Count of JSON-RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			dripsRegistry.streamsSet,
			dripsRegistry.cyclesReceived,
			dripsRegistry.amountsReceived,
			dripsRegistry.splitsApplied,
			dripsRegistry.collected,
			dripsRegistry.rpcRequests,
		)
	})
	return dripsRegistry
}

// StreamsSet records an applied streams configuration change.
func (m *DripsMetrics) StreamsSet() {
	if m == nil {
		return
	}
	m.streamsSet.Inc()
}

// CyclesReceived records realized settlement cycles.
func (m *DripsMetrics) CyclesReceived(cycles uint32) {
	if m == nil || cycles == 0 {
		return
	}
	m.cyclesReceived.Add(float64(cycles))
}

// AmountReceived records a realized amount by path ("receive" or "squeeze").
// Amounts are tracked as float64 token units purely for dashboards; the
// ledger itself never rounds.
func (m *DripsMetrics) AmountReceived(path string, amt float64) {
	if m == nil || amt <= 0 {
		return
	}
	m.amountsReceived.WithLabelValues(path).Add(amt)
}

// SplitApplied records one application of a splits configuration.
func (m *DripsMetrics) SplitApplied() {
	if m == nil {
		return
	}
	m.splitsApplied.Inc()
}

// Collected records one collectable withdrawal.
func (m *DripsMetrics) Collected() {
	if m == nil {
		return
	}
	m.collected.Inc()
}

// RPCRequest records one JSON-RPC request outcome.
func (m *DripsMetrics) RPCRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}
