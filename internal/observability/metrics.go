package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	JournalsPosted   *prometheus.CounterVec
	EngineSequence   prometheus.Gauge

	// --- Risk pool ---
	PoolCapital         prometheus.Gauge
	PoolExposure        prometheus.Gauge
	PoolUtilization     prometheus.Gauge
	PoolRewardPool      prometheus.Gauge
	PoolReserveFund     prometheus.Gauge
	ReinsuranceTriggers prometheus.Counter

	// --- Policies, oracle, claims, governance ---
	PoliciesPurchased *prometheus.CounterVec
	PremiumCollected  *prometheus.CounterVec
	Attestations      *prometheus.CounterVec
	ClaimsByStatus    *prometheus.GaugeVec
	PayoutAmount      prometheus.Counter
	ProposalsExecuted *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion & channels ---
	IngestReceived     *prometheus.CounterVec
	IngestParseErrors  *prometheus.CounterVec
	IngestSequenceGaps *prometheus.CounterVec
	PublishErrors      *prometheus.CounterVec
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec

	// --- Persistence ---
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistRecordsWritten  prometheus.Counter
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_engine_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"kind"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_engine_commands_rejected_total",
			Help: "Commands rejected (duplicate or domain error)",
		}, []string{"kind", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mutual_engine_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		JournalsPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_engine_journals_posted_total",
			Help: "Journal entries posted",
		}, []string{"journal_type"}),

		EngineSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_engine_sequence",
			Help: "Next sequence the engine will assign",
		}),

		PoolCapital: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_pool_capital",
			Help: "Pool capital in currency units",
		}),

		PoolExposure: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_pool_exposure",
			Help: "Outstanding policy exposure in currency units",
		}),

		PoolUtilization: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_pool_utilization_ratio",
			Help: "Exposure divided by capital",
		}),

		PoolRewardPool: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_pool_reward_pool",
			Help: "Unallocated reward pool balance",
		}),

		PoolReserveFund: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_pool_reserve_fund",
			Help: "Reserve fund balance",
		}),

		ReinsuranceTriggers: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_pool_reinsurance_triggers_total",
			Help: "Upward crossings of the reinsurance threshold",
		}),

		PoliciesPurchased: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_policies_purchased_total",
			Help: "Policies purchased",
		}, []string{"category"}),

		PremiumCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_premium_collected_total",
			Help: "Premium collected in currency units",
		}, []string{"category"}),

		Attestations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_oracle_attestations_total",
			Help: "Accepted attestations by resulting verdict",
		}, []string{"verdict"}),

		ClaimsByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mutual_claims",
			Help: "Claims by status",
		}, []string{"status"}),

		PayoutAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_payout_amount_total",
			Help: "Claim payouts in currency units",
		}),

		ProposalsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_governance_proposals_executed_total",
			Help: "Executed proposals by change kind",
		}, []string{"change"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_idempotency_duplicates_total",
			Help: "Duplicate request ids by tier",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_dedup_lru_size",
			Help: "Request ids held in the LRU",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_dedup_tier2_errors_total",
			Help: "Postgres dedup lookup failures",
		}),

		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_ingest_received_total",
			Help: "Messages received by subject",
		}, []string{"subject"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_ingest_parse_errors_total",
			Help: "Messages that failed to parse",
		}, []string{"kind"}),

		IngestSequenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_ingest_sequence_gaps_total",
			Help: "Stream sequence gaps by consumer",
		}, []string{"consumer"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_publish_errors_total",
			Help: "Outbound publish failures",
		}, []string{"subject"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mutual_channel_size",
			Help: "Buffered items per channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mutual_channel_capacity",
			Help: "Capacity per channel",
		}, []string{"channel"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mutual_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mutual_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_persist_events_written_total",
			Help: "Envelopes written to the command log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistRecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_persist_records_written_total",
			Help: "Entity records upserted",
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "mutual_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mutual_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "mutual_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mutual_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mutual_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel fill gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
