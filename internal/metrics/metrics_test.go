package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAreNoopsWhenDisabled(t *testing.T) {
	m := GetMetrics()
	metricsEnabled = false

	m.RecordSubmission("done", 3)
	m.RecordRequest("/aggregate", 200, "")
	m.RecordDrop("merged")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("done")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DropFilesTotal.WithLabelValues("merged")))
}

func TestRecordersWhenEnabled(t *testing.T) {
	m := GetMetrics()
	EnableMetrics()
	defer func() { metricsEnabled = false }()
	require.True(t, IsMetricsEnabled())

	m.RecordSubmission("error", 2)
	m.RecordRequest("/aggregate", 500, "transport")
	m.RecordWrite("export", 128, nil)
	m.RecordWrite("export", 0, errors.New("disk full"))
	m.SetResultSetSize(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NetworkRequestsTotal.WithLabelValues("/aggregate", "500")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NetworkErrorsTotal.WithLabelValues("/aggregate", "transport")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DiskWriteOps.WithLabelValues("export")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DiskErrors.WithLabelValues("export", "write")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.ResultSetSize))
}

func TestMeasureDurationDisabledReturnsNoop(t *testing.T) {
	metricsEnabled = false
	done := MeasureDuration(GetMetrics().NetworkRequestDuration, map[string]string{"endpoint": "/health"})
	require.NotNil(t, done)
	done()
}
