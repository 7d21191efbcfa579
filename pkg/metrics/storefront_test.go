package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

func TestStorefrontMetricsLabelsByErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStorefrontMetrics(reg)

	m.IncCheckout(nil)
	m.IncCheckout(pkgerrors.New(pkgerrors.CodeInsufficientStock, "short"))
	m.IncCheckout(errors.New("untyped"))
	m.IncReconciliation("callback", "success", "paid")
	m.AddStockDeducted(3)
	m.AddStockDeducted(-1)
	m.ObserveGatewayCall("create_bill", nil, 300*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for label, want := range map[string]float64{"ok": 1, "INSUFFICIENT_STOCK": 1, "INTERNAL_ERROR": 1} {
		got, err := fetchCounterValue(mfs, "bnd_checkout_total", "result", label)
		if err != nil {
			t.Fatalf("fetch checkout %s: %v", label, err)
		}
		if got != want {
			t.Fatalf("checkout %s = %f, want %f", label, got, want)
		}
	}

	if got, err := fetchCounterValue(mfs, "bnd_reconciliation_total", "result", "paid"); err != nil || got != 1 {
		t.Fatalf("reconciliation counter = %f (%v)", got, err)
	}

	deducted := findMetricFamily(mfs, "bnd_stock_units_deducted_total")
	if deducted == nil || deducted.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Fatalf("unexpected deducted family %+v", deducted)
	}

	if got, err := fetchHistogramSum(mfs, "bnd_gateway_request_duration_seconds", "operation", "create_bill"); err != nil || got <= 0 {
		t.Fatalf("gateway histogram sum = %f (%v)", got, err)
	}
}

func TestStorefrontMetricsNilSafe(t *testing.T) {
	var m *StorefrontMetrics
	m.IncCheckout(nil)
	m.IncReconciliation("", "", "")
	m.AddStockDeducted(1)
	m.ObserveGatewayCall("x", nil, time.Second)

	NewStorefrontMetrics(nil).IncCheckout(nil)
}

func TestHTTPMetricsObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("POST", "/api/v1/checkout", 201, 40*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchHistogramSum(mfs, "bnd_http_request_duration_seconds", "route", "/api/v1/checkout"); err != nil || got <= 0 {
		t.Fatalf("http histogram sum = %f (%v)", got, err)
	}
	if _, err := fetchHistogramSum(mfs, "bnd_http_request_duration_seconds", "route", "unmatched"); err != nil {
		t.Fatalf("expected unmatched route label: %v", err)
	}

	var nilMetrics *HTTPMetrics
	nilMetrics.ObserveRequest("GET", "/", 200, time.Millisecond)
}
