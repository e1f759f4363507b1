package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "test-job"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.IncSkipped(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "fulfillment_cron_job_success_total", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "fulfillment_cron_job_failure_total", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "fulfillment_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestSyncAndStockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	syncMetrics := NewSyncMetrics(reg)
	stock := NewStockMetrics(reg)

	syncMetrics.Observe("order_status", SyncSourceInline, SyncOutcomeFailed)
	syncMetrics.Observe("order_status", SyncSourceInline, SyncOutcomeFailed)
	syncMetrics.SetPending(3)
	stock.SetLowStock(4)
	stock.IncInsufficient("reserve")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "fulfillment_sync_notifications_total", "outcome", SyncOutcomeFailed); err != nil || got != 2 {
		t.Fatalf("expected 2 failed notifications, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "fulfillment_warehouse_insufficient_stock_total", "operation", "reserve"); err != nil || got != 1 {
		t.Fatalf("expected 1 insufficient rejection, got %f err=%v", got, err)
	}
	lowStock := findMetricFamily(mfs, "fulfillment_warehouse_low_stock_records")
	if lowStock == nil || lowStock.GetMetric()[0].GetGauge().GetValue() != 4 {
		t.Fatalf("expected low stock gauge of 4")
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewCronJobMetrics(nil).IncSuccess("x")
	NewSyncMetrics(nil).Observe("k", "s", "o")
	NewStockMetrics(nil).SetLowStock(1)
	var nilSync *SyncMetrics
	nilSync.SetPending(1)
}

func TestHTTPMetricsNilSafe(t *testing.T) {
	var nilHTTP *HTTPMetrics
	nilHTTP.Observe("GET", "/", 200, time.Millisecond)
	NewHTTPMetrics(nil).Observe("GET", "", 500, time.Millisecond)
}
