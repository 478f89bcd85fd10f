package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// sample finds the metric in family name whose labels include all of want.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func TestCronJobMetricsSplitOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.Record("partial-order-report", 250*time.Millisecond, nil)
	m.Record("partial-order-report", time.Second, nil)
	m.Record("outbox-retention", time.Second, errors.New("db down"))

	ok := sample(t, reg, "cron_job_runs_total", map[string]string{"job": "partial-order-report", "outcome": "success"})
	require.NotNil(t, ok)
	require.Equal(t, 2.0, ok.GetCounter().GetValue())

	failed := sample(t, reg, "cron_job_runs_total", map[string]string{"job": "outbox-retention", "outcome": "failure"})
	require.NotNil(t, failed)
	require.Equal(t, 1.0, failed.GetCounter().GetValue())

	hist := sample(t, reg, "cron_job_duration_seconds", map[string]string{"job": "partial-order-report"})
	require.NotNil(t, hist)
	require.EqualValues(t, 2, hist.GetHistogram().GetSampleCount())
	require.InDelta(t, 1.25, hist.GetHistogram().GetSampleSum(), 1e-9)

	require.NotNil(t, sample(t, reg, "cron_job_last_success_timestamp_seconds", map[string]string{"job": "partial-order-report"}))
	require.Nil(t, sample(t, reg, "cron_job_last_success_timestamp_seconds", map[string]string{"job": "outbox-retention"}))
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.Record("job", time.Second, nil)
	require.Nil(t, NewCronJobMetrics(nil))
}
