package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/treasury/internal/jobs"
	"github.com/odyssey-erp/treasury/jobs"
)

func TestMaintenanceJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Key cleanup is a single DELETE and finishes quickly.
	for i := 0; i < 60; i++ {
		tracker := metrics.Track(jobs.TaskIdempotencyCleanup)
		time.Sleep(2 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending cleanup tracker: %v", err)
		}
	}

	// Reconcile scans every tenant and is slower.
	for i := 0; i < 15; i++ {
		tracker := metrics.Track(jobs.TaskLedgerReconcile)
		time.Sleep(10 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending reconcile tracker: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		tracker := metrics.Track(jobs.TaskIdempotencyCleanup)
		time.Sleep(2 * time.Millisecond)
		if err := tracker.End(errors.New("timeout")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}
	metrics.SetDrift(1, 2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "treasury_jobs_total", map[string]string{"job": jobs.TaskIdempotencyCleanup, "status": "success"})
	failure := metricValue(t, families, "treasury_jobs_total", map[string]string{"job": jobs.TaskIdempotencyCleanup, "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no cleanup executions recorded")
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("cleanup success ratio too low: %f", ratio)
	}

	if mean := histogramMean(t, families, "treasury_job_duration_seconds", map[string]string{"job": jobs.TaskLedgerReconcile}); mean > 2.0 {
		t.Fatalf("reconcile duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "treasury_job_duration_seconds", map[string]string{"job": jobs.TaskIdempotencyCleanup}); mean > 0.5 {
		t.Fatalf("cleanup duration above budget: %f", mean)
	}
	if drift := metricValue(t, families, "treasury_ledger_drift_accounts", map[string]string{"tenant": "1"}); drift != 2 {
		t.Fatalf("drift gauge = %f, want 2", drift)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
