package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine exports.
type Metrics struct {
	// Control loop
	EventsApplied   *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	EventDuration   *prometheus.HistogramVec
	InboxSize       *prometheus.GaugeVec
	InboxUtilized   *prometheus.GaugeVec

	// Grid
	CriticalIndex     *prometheus.GaugeVec
	StairAdvances     *prometheus.CounterVec
	StairOverruns     *prometheus.CounterVec
	RestingOrders     *prometheus.GaugeVec
	ReversalOrders    *prometheus.CounterVec
	ReversalBatches   *prometheus.CounterVec
	PartialLedgerSize *prometheus.GaugeVec

	// Reconciliation
	DriftResidual     *prometheus.GaugeVec
	DriftCorrections  *prometheus.CounterVec
	DeviationFolded   *prometheus.CounterVec
	StrayCancels      *prometheus.CounterVec
	MissingReposts    *prometheus.CounterVec
	FullRelays        *prometheus.CounterVec
	MaintenanceCycles *prometheus.CounterVec

	// Profit & position
	RealizedProfit       *prometheus.GaugeVec
	MatchedProfit        *prometheus.GaugeVec
	TheoreticalPosition  *prometheus.GaugeVec
	AccumulatedDeviation *prometheus.GaugeVec

	// Reporting & persistence
	ReportsPublished *prometheus.CounterVec
	PublishDrops     prometheus.Counter
	SnapshotsSaved   prometheus.Counter
	SnapshotErrors   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_events_applied_total",
			Help: "Loop events processed, by kind",
		}, []string{"ladder", "kind"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_events_rejected_total",
			Help: "Loop events rejected, by kind and reason",
		}, []string{"ladder", "kind", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_event_apply_duration_seconds",
			Help:    "Time to process one loop event",
			Buckets: latencyBuckets,
		}, []string{"ladder", "kind"}),

		InboxSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_inbox_size",
			Help: "Current items in the engine inbox",
		}, []string{"ladder"}),

		InboxUtilized: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_inbox_utilization",
			Help: "Inbox size over capacity (0.0-1.0)",
		}, []string{"ladder"}),

		CriticalIndex: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_critical_index",
			Help: "Ladder index the engine believes price last crossed",
		}, []string{"ladder"}),

		StairAdvances: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_stair_advances_total",
			Help: "Stair advances executed",
		}, []string{"ladder"}),

		StairOverruns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_stair_overruns_total",
			Help: "Advances rejected past the last stair or on replay",
		}, []string{"ladder"}),

		RestingOrders: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_resting_orders",
			Help: "Resting orders tracked, by side",
		}, []string{"ladder", "side"}),

		ReversalOrders: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_reversal_orders_total",
			Help: "Opposite-side orders posted after fills",
		}, []string{"ladder"}),

		ReversalBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_reversal_batches_total",
			Help: "Reversal submissions sent as one batch command",
		}, []string{"ladder"}),

		PartialLedgerSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_partial_ledger_size",
			Help: "Orders with unresolved partial fills",
		}, []string{"ladder"}),

		DriftResidual: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_drift_residual",
			Help: "Last computed position drift residual, in lots",
		}, []string{"ladder"}),

		DriftCorrections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_drift_corrections_total",
			Help: "Corrective orders or amendments issued",
		}, []string{"ladder", "method"}),

		DeviationFolded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_deviation_folded_total",
			Help: "Sub-materiality residuals folded into accumulated deviation",
		}, []string{"ladder"}),

		StrayCancels: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_stray_cancels_total",
			Help: "Exchange-side orders cancelled as unknown to the engine",
		}, []string{"ladder"}),

		MissingReposts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_missing_reposts_total",
			Help: "Expected orders reposted after vanishing from the exchange",
		}, []string{"ladder"}),

		FullRelays: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_full_relays_total",
			Help: "Cancel-everything re-lays after large price drift",
		}, []string{"ladder"}),

		MaintenanceCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_maintenance_cycles_total",
			Help: "Idle/periodic maintenance passes completed",
		}, []string{"ladder"}),

		RealizedProfit: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_realized_profit",
			Help: "Summed per-stair directional profit, quote scale",
		}, []string{"ladder"}),

		MatchedProfit: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_matched_profit",
			Help: "Profit from completed buy-sell pairs, quote scale",
		}, []string{"ladder"}),

		TheoreticalPosition: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_theoretical_position",
			Help: "Model position from confirmed fills, in lots",
		}, []string{"ladder"}),

		AccumulatedDeviation: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_accumulated_deviation",
			Help: "Inventory owed from rejections and cancelled partials, in lots",
		}, []string{"ladder"}),

		ReportsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_reports_published_total",
			Help: "Reporting snapshots published",
		}, []string{"ladder"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_publish_drops_total",
			Help: "Reports dropped due to a full publish channel",
		}),

		SnapshotsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_snapshots_saved_total",
			Help: "Run-state snapshots persisted",
		}),

		SnapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_snapshot_errors_total",
			Help: "Run-state snapshot persistence failures",
		}),
	}
}

// SetInboxMetrics updates the inbox utilization gauges.
func (m *Metrics) SetInboxMetrics(ladder string, size, capacity int) {
	m.InboxSize.WithLabelValues(ladder).Set(float64(size))
	if capacity > 0 {
		m.InboxUtilized.WithLabelValues(ladder).Set(float64(size) / float64(capacity))
	}
}
