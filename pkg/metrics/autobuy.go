package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AutobuyMetrics records reconciliation round and purchase outcomes.
type AutobuyMetrics struct {
	roundDuration *prometheus.HistogramVec
	rounds        *prometheus.CounterVec
	syncChanges   *prometheus.CounterVec
	purchases     *prometheus.CounterVec
	newItems      prometheus.Gauge
}

// NewAutobuyMetrics registers the auto-buy collectors on the provided registerer.
// A nil registerer yields a no-op collector.
func NewAutobuyMetrics(reg prometheus.Registerer) *AutobuyMetrics {
	if reg == nil {
		return &AutobuyMetrics{}
	}
	roundDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autobuy_round_duration_seconds",
		Help:    "Duration of reconciliation rounds in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	rounds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autobuy_rounds_total",
		Help: "Reconciliation rounds by outcome.",
	}, []string{"outcome"})
	syncChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autobuy_catalog_changes_total",
		Help: "Catalog rows inserted or updated by sync.",
	}, []string{"kind"})
	purchases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autobuy_purchases_total",
		Help: "Purchase attempts by outcome and source.",
	}, []string{"outcome", "source"})
	newItems := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autobuy_new_items",
		Help: "Items in the new-item set of the latest round.",
	})
	reg.MustRegister(roundDuration, rounds, syncChanges, purchases, newItems)
	return &AutobuyMetrics{
		roundDuration: roundDuration,
		rounds:        rounds,
		syncChanges:   syncChanges,
		purchases:     purchases,
		newItems:      newItems,
	}
}

// ObserveRound records one finished round.
func (m *AutobuyMetrics) ObserveRound(outcome string, duration time.Duration) {
	if m == nil || m.rounds == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.rounds.WithLabelValues(label).Inc()
	m.roundDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// AddSyncChanges counts inserted and updated catalog rows.
func (m *AutobuyMetrics) AddSyncChanges(inserted, updated int) {
	if m == nil || m.syncChanges == nil {
		return
	}
	m.syncChanges.WithLabelValues("inserted").Add(float64(inserted))
	m.syncChanges.WithLabelValues("updated").Add(float64(updated))
}

// IncPurchase counts one purchase attempt.
func (m *AutobuyMetrics) IncPurchase(outcome, source string) {
	if m == nil || m.purchases == nil {
		return
	}
	m.purchases.WithLabelValues(normalizeLabel(outcome), normalizeLabel(source)).Inc()
}

// SetNewItems publishes the size of the current new-item set.
func (m *AutobuyMetrics) SetNewItems(n int) {
	if m == nil || m.newItems == nil {
		return
	}
	m.newItems.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
