package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync outcomes.
const (
	SyncOutcomeDelivered  = "delivered"
	SyncOutcomeFailed     = "failed"
	SyncOutcomeDeadLetter = "dead_letter"
	SyncOutcomeReenqueued = "reenqueued"
	SyncSourceInline      = "inline"
	SyncSourceRelay       = "relay"
	SyncSourceReconcile   = "reconcile"
)

// SyncMetrics counts order-service notifications by kind, source and outcome.
type SyncMetrics struct {
	notifications *prometheus.CounterVec
	pending       prometheus.Gauge
}

// NewSyncMetrics registers the sync metrics on reg. A nil registerer yields a
// no-op collector.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "notifications_total",
		Help:      "Order-service notifications by kind, source and outcome.",
	}, []string{"kind", "source", "outcome"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "outbox_pending",
		Help:      "Undelivered rows seen in the last relay batch.",
	})
	reg.MustRegister(notifications, pending)
	return &SyncMetrics{notifications: notifications, pending: pending}
}

// Observe increments the counter for one notification attempt.
func (s *SyncMetrics) Observe(kind, source, outcome string) {
	if s == nil || s.notifications == nil {
		return
	}
	s.notifications.WithLabelValues(normalizeLabel(kind), normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// SetPending records the size of the latest relay batch.
func (s *SyncMetrics) SetPending(n int) {
	if s == nil || s.pending == nil {
		return
	}
	s.pending.Set(float64(n))
}

// StockMetrics exposes ledger health gauges.
type StockMetrics struct {
	lowStock   prometheus.Gauge
	rejections *prometheus.CounterVec
}

// NewStockMetrics registers the stock gauges on reg.
func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	if reg == nil {
		return &StockMetrics{}
	}
	lowStock := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "warehouse",
		Name:      "low_stock_records",
		Help:      "Active stock records at or below the low-stock threshold.",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "warehouse",
		Name:      "insufficient_stock_total",
		Help:      "Mutations rejected for insufficient stock, by operation.",
	}, []string{"operation"})
	reg.MustRegister(lowStock, rejections)
	return &StockMetrics{lowStock: lowStock, rejections: rejections}
}

// SetLowStock records the latest low-stock count.
func (s *StockMetrics) SetLowStock(n int) {
	if s == nil || s.lowStock == nil {
		return
	}
	s.lowStock.Set(float64(n))
}

// IncInsufficient counts a rejected reserve/export.
func (s *StockMetrics) IncInsufficient(operation string) {
	if s == nil || s.rejections == nil {
		return
	}
	s.rejections.WithLabelValues(normalizeLabel(operation)).Inc()
}
