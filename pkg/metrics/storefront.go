package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// StorefrontMetrics tracks checkout, reconciliation and gateway behaviour.
// A zero value (or nil) is a no-op recorder.
type StorefrontMetrics struct {
	checkouts       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	stockDeducted   prometheus.Counter
}

// NewStorefrontMetrics registers the storefront collectors on reg.
func NewStorefrontMetrics(reg prometheus.Registerer) *StorefrontMetrics {
	if reg == nil {
		return &StorefrontMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_total",
		Help:      "Payment outcome signals applied, by source, outcome and result.",
	}, []string{"source", "outcome", "result"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of payment gateway calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"operation", "result"})
	stockDeducted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_units_deducted_total",
		Help:      "Units removed from variant stock on confirmed payment.",
	})
	reg.MustRegister(checkouts, reconciliations, gatewayLatency, stockDeducted)
	return &StorefrontMetrics{
		checkouts:       checkouts,
		reconciliations: reconciliations,
		gatewayLatency:  gatewayLatency,
		stockDeducted:   stockDeducted,
	}
}

// IncCheckout counts a checkout attempt, labelled by the error code or "ok".
func (m *StorefrontMetrics) IncCheckout(err error) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(resultLabel(err)).Inc()
}

// IncReconciliation counts one applied payment signal.
func (m *StorefrontMetrics) IncReconciliation(source, outcome, result string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome), normalizeLabel(result)).Inc()
}

// AddStockDeducted records units deducted by a paid order.
func (m *StorefrontMetrics) AddStockDeducted(units int) {
	if m == nil || m.stockDeducted == nil || units <= 0 {
		return
	}
	m.stockDeducted.Add(float64(units))
}

// ObserveGatewayCall records a gateway round trip.
func (m *StorefrontMetrics) ObserveGatewayCall(operation string, err error, elapsed time.Duration) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(normalizeLabel(operation), resultLabel(err)).Observe(elapsed.Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(pkgerrors.CodeOf(err))
}
