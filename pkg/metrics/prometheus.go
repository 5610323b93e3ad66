package metrics

import (
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a private registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	allocationsSeeded  prometheus.Counter
	latestEpoch        prometheus.Gauge
	maxEpoch           atomic.Uint64
	epochSeen          atomic.Bool
	ownershipTransfers prometheus.Counter

	claims        *prometheus.CounterVec
	claimedAmount prometheus.Counter
	batchSize     prometheus.Histogram
	claimDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers every collector under namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		allocationsSeeded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_seeded_total",
				Help:      "Total number of epoch roots published",
			},
		),
		latestEpoch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_seeded_epoch",
				Help:      "Highest epoch with a published root",
			},
		),
		ownershipTransfers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ownership_transfers_total",
				Help:      "Total number of administrator changes",
			},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_total",
				Help:      "Claim attempts by kind (single, batch) and result",
			},
			[]string{"kind", "result"},
		),
		claimedAmount: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claimed_amount_total",
				Help:      "Sum of token base units paid out (float approximation)",
			},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "claim_batch_entries",
				Help:      "Number of epochs in successful batch claims",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		claimDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "claim_duration_seconds",
				Help:      "Time spent processing a claim including the token transfer",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.allocationsSeeded,
		m.latestEpoch,
		m.ownershipTransfers,
		m.claims,
		m.claimedAmount,
		m.batchSize,
		m.claimDuration,
	)

	return m
}

func (m *PrometheusMetrics) IncAllocationsSeeded() {
	m.allocationsSeeded.Inc()
}

// SetLatestEpoch only ever raises the gauge.
func (m *PrometheusMetrics) SetLatestEpoch(epoch uint64) {
	for {
		current := m.maxEpoch.Load()
		if epoch <= current && m.epochSeen.Load() {
			return
		}
		if m.maxEpoch.CompareAndSwap(current, epoch) {
			m.epochSeen.Store(true)
			m.latestEpoch.Set(float64(epoch))
			return
		}
	}
}

func (m *PrometheusMetrics) IncOwnershipTransfers() {
	m.ownershipTransfers.Inc()
}

func (m *PrometheusMetrics) IncClaims(kind, result string) {
	m.claims.WithLabelValues(kind, result).Inc()
}

func (m *PrometheusMetrics) AddClaimedAmount(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.claimedAmount.Add(f)
}

func (m *PrometheusMetrics) ObserveBatchSize(entries int) {
	m.batchSize.Observe(float64(entries))
}

func (m *PrometheusMetrics) ObserveClaimDuration(kind string, d time.Duration) {
	m.claimDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}
