package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RoundLedger.
type Metrics struct {
	// --- Engine ---
	RoundsCreated   prometheus.Counter
	BetsPlaced      *prometheus.CounterVec
	BetVolume       *prometheus.CounterVec
	BetsRejected    *prometheus.CounterVec
	RoundsResolved  *prometheus.CounterVec
	ResolveFailures *prometheus.CounterVec
	FeesCharged     prometheus.Counter
	ClaimsProcessed prometheus.Counter
	ClaimPayouts    prometheus.Counter
	ClaimFailures   *prometheus.CounterVec
	OpDuration      *prometheus.HistogramVec
	EngineSequence  prometheus.Gauge

	// --- Oracle & price feed ---
	OracleFetchDuration prometheus.Histogram
	OracleFetchErrors   *prometheus.CounterVec
	PriceTicks          *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Projections & outbox ---
	ProjectionDrops     prometheus.Counter
	ProjectionUpdateDur prometheus.Histogram
	PublishDrops        prometheus.Counter
	PublishErrors       prometheus.Counter

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// --- Keeper ---
	KeeperActions *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5,
	}

	return &Metrics{
		RoundsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_rounds_created_total",
			Help: "Rounds created",
		}),
		BetsPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_bets_placed_total",
			Help: "Bets accepted",
		}, []string{"side"}),
		BetVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_bet_volume_total",
			Help: "Staked amount accepted, in base units",
		}, []string{"side"}),
		BetsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_bets_rejected_total",
			Help: "Bets rejected by reason",
		}, []string{"reason"}),
		RoundsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_rounds_resolved_total",
			Help: "Rounds resolved by outcome",
		}, []string{"outcome"}),
		ResolveFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_resolve_failures_total",
			Help: "Failed resolution attempts by reason",
		}, []string{"reason"}),
		FeesCharged: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_fees_charged_total",
			Help: "Platform fees charged, in base units",
		}),
		ClaimsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_claims_processed_total",
			Help: "Successful claims",
		}),
		ClaimPayouts: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_claim_payouts_total",
			Help: "Amount paid out by claims, in base units",
		}),
		ClaimFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_claim_failures_total",
			Help: "Failed claims by reason",
		}, []string{"reason"}),
		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roundledger_operation_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: opBuckets,
		}, []string{"op"}),
		EngineSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "roundledger_engine_sequence",
			Help: "Last event sequence emitted by the engine",
		}),

		OracleFetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundledger_oracle_fetch_duration_seconds",
			Help:    "Price fetch latency",
			Buckets: opBuckets,
		}),
		OracleFetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_oracle_fetch_errors_total",
			Help: "Price fetch failures by reason",
		}, []string{"reason"}),
		PriceTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_price_ticks_total",
			Help: "Price ticks received by result",
		}, []string{"result"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_persist_events_written_total",
			Help: "Events written to the event log",
		}),
		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_persist_journals_written_total",
			Help: "Journal entries written",
		}),
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundledger_persist_batch_duration_seconds",
			Help:    "Event log batch write latency",
			Buckets: prometheus.DefBuckets,
		}),
		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundledger_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_persist_errors_total",
			Help: "Persistence errors by stage",
		}, []string{"stage"}),
		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "roundledger_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),
		ProjectionUpdateDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundledger_projection_update_duration_seconds",
			Help:    "Projection update latency",
			Buckets: prometheus.DefBuckets,
		}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_publish_errors_total",
			Help: "Outbound publish failures",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "roundledger_snapshots_taken_total",
			Help: "Snapshots saved",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundledger_snapshot_duration_seconds",
			Help:    "Snapshot creation latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "roundledger_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_api_requests_total",
			Help: "HTTP API requests by route and status",
		}, []string{"route", "code"}),
		APIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roundledger_api_request_duration_seconds",
			Help:    "HTTP API latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		KeeperActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundledger_keeper_actions_total",
			Help: "Keeper actions by kind and result",
		}, []string{"action", "result"}),
	}
}
