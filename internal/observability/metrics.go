package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StructuredVault.
type Metrics struct {
	// --- Action processing ---
	ActionsApplied  *prometheus.CounterVec
	ActionsRejected *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	CoreSequence    prometheus.Gauge

	// --- Vault state ---
	VaultStatus          *prometheus.GaugeVec
	VirtualTokenBalance  *prometheus.GaugeVec
	OutstandingAssets    *prometheus.GaugeVec
	OutstandingPrincipal *prometheus.GaugeVec
	TrancheValue         *prometheus.GaugeVec
	UnpaidFees           *prometheus.GaugeVec
	CheckpointsCommitted *prometheus.CounterVec
	FeesPaid             *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		ActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_actions_applied_total",
			Help: "Actions successfully applied by the engine",
		}, []string{"action"}),

		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_actions_rejected_total",
			Help: "Actions rejected (authorization, status, ratio, funds)",
		}, []string{"action", "reason"}),

		ActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "svault_action_apply_duration_seconds",
			Help:    "Time to apply a single action",
			Buckets: latencyBuckets,
		}, []string{"action"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "svault_core_sequence",
			Help: "Current global event sequence number",
		}),

		VaultStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_status",
			Help: "Lifecycle state (0=CapitalFormation, 1=Live, 2=Closed)",
		}, []string{"vault"}),

		VirtualTokenBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_virtual_token_balance",
			Help: "Internal liquid balance",
		}, []string{"vault"}),

		OutstandingAssets: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_outstanding_assets",
			Help: "Manager valuation of deployed assets",
		}, []string{"vault"}),

		OutstandingPrincipal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_outstanding_principal",
			Help: "Disbursed principal not yet repaid",
		}, []string{"vault"}),

		TrancheValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_tranche_value",
			Help: "Checkpointed tranche value",
		}, []string{"vault", "tranche"}),

		UnpaidFees: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_unpaid_fees",
			Help: "Carried fee debt per tranche",
		}, []string{"vault", "tranche", "kind"}),

		CheckpointsCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_checkpoints_committed_total",
			Help: "Checkpoint commits per vault",
		}, []string{"vault"}),

		FeesPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_fees_paid_total",
			Help: "Fees settled, by kind",
		}, []string{"vault", "kind"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "svault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "svault_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_idempotency_duplicates_total",
			Help: "Duplicate action keys caught",
		}, []string{"action"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "svault_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "svault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "svault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "svault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "svault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "svault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "svault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "svault_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
