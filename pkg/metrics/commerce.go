package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ReservationReserved     = "reserved"
	ReservationInsufficient = "insufficient"
	ReservationNotFound     = "not_found"
	ReservationError        = "error"

	ReleaseUpdate = "update"
	ReleaseRemove = "remove"
	ReleaseClear  = "clear"

	CheckoutComplete = "complete"
	CheckoutPartial  = "partial"
	CheckoutEmpty    = "empty"
)

// CommerceMetrics tracks stock movement through carts and checkout outcomes.
// A nil *CommerceMetrics is valid and records nothing.
type CommerceMetrics struct {
	reservations          *prometheus.CounterVec
	releases              *prometheus.CounterVec
	compensations         prometheus.Counter
	checkouts             *prometheus.CounterVec
	orderLineFailures     prometheus.Counter
	clearFailures         prometheus.Counter
	pendingReconciliation prometheus.Gauge
}

// NewCommerceMetrics registers the cart and checkout collectors on reg.
func NewCommerceMetrics(reg prometheus.Registerer) *CommerceMetrics {
	if reg == nil {
		return &CommerceMetrics{}
	}
	m := &CommerceMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_stock_reservations_total",
			Help: "Conditional stock decrements attempted for cart lines, by outcome.",
		}, []string{"outcome"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_stock_releases_total",
			Help: "Reserved stock returned to the shelf, by reason.",
		}, []string{"reason"}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_compensations_total",
			Help: "Compensating increments issued after a cart line write failed.",
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Checkout attempts, by result.",
		}, []string{"result"}),
		orderLineFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_order_line_failures_total",
			Help: "Order lines that could not be written during checkout.",
		}),
		clearFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_clear_failures_total",
			Help: "Cart lines whose stock could not be restored while clearing a cart.",
		}),
		pendingReconciliation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orders_pending_reconciliation",
			Help: "Orders awaiting reconciliation: unreconciled partial orders and stale pending ones.",
		}),
	}
	reg.MustRegister(
		m.reservations,
		m.releases,
		m.compensations,
		m.checkouts,
		m.orderLineFailures,
		m.clearFailures,
		m.pendingReconciliation,
	)
	return m
}

func (m *CommerceMetrics) ObserveReservation(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *CommerceMetrics) ObserveRelease(reason string) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *CommerceMetrics) IncCompensation() {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.Inc()
}

func (m *CommerceMetrics) ObserveCheckout(result string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *CommerceMetrics) AddOrderLineFailures(n int) {
	if m == nil || m.orderLineFailures == nil || n <= 0 {
		return
	}
	m.orderLineFailures.Add(float64(n))
}

func (m *CommerceMetrics) AddClearFailures(n int) {
	if m == nil || m.clearFailures == nil || n <= 0 {
		return
	}
	m.clearFailures.Add(float64(n))
}

// SetPendingReconciliation publishes the latest count of orders awaiting reconciliation.
func (m *CommerceMetrics) SetPendingReconciliation(n int64) {
	if m == nil || m.pendingReconciliation == nil {
		return
	}
	m.pendingReconciliation.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
