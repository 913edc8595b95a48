package features

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netrisk/internal/metrics"
	"netrisk/pkg/models"
)

var t0 = time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC)

func at(min int) time.Time {
	return t0.Add(time.Duration(min) * time.Minute)
}

func nodeSample(id string, min int, m map[string]float64) models.MetricSample {
	return models.MetricSample{Timestamp: at(min), NodeID: id, Metrics: m}
}

func TestComputeWindowExcludesOlderSamples(t *testing.T) {
	samples := []models.MetricSample{
		nodeSample("N1", 0, map[string]float64{"cpu": 0.5}),
		nodeSample("N1", 5, map[string]float64{"cpu": 0.6}),
		nodeSample("N1", 10, map[string]float64{"cpu": 0.9}),
	}

	got, err := NewAggregator(0, nil).Compute(context.Background(), samples, []int{5})
	require.NoError(t, err)
	require.Len(t, got, 3)

	v := got[2]
	assert.Equal(t, "N1", v.EntityID)
	assert.Equal(t, models.EntityNode, v.EntityType)
	assert.True(t, v.Timestamp.Equal(at(10)))
	assert.InDelta(t, 0.9, v.Values["cpu_current"], 1e-9)
	assert.InDelta(t, 0.75, v.Values["cpu_mean_5m"], 1e-9)
	assert.InDelta(t, 0.6, v.Values["cpu_min_5m"], 1e-9)
	assert.InDelta(t, 0.9, v.Values["cpu_max_5m"], 1e-9)
	assert.InDelta(t, 0.5, v.Values["cpu_change_5m"], 1e-9)
	assert.InDelta(t, math.Sqrt(0.045), v.Values["cpu_std_5m"], 1e-9)
}

func TestComputeSingleSampleWindow(t *testing.T) {
	got, err := NewAggregator(0, nil).Compute(context.Background(),
		[]models.MetricSample{nodeSample("N1", 0, map[string]float64{"cpu": 0.5})}, []int{5})
	require.NoError(t, err)
	require.Len(t, got, 1)

	values := got[0].Values
	assert.InDelta(t, 0.5, values["cpu_mean_5m"], 1e-9)
	assert.NotContains(t, values, "cpu_std_5m")
	assert.NotContains(t, values, "cpu_change_5m")
}

func TestComputeNoLookAhead(t *testing.T) {
	samples := []models.MetricSample{
		nodeSample("N1", 0, map[string]float64{"cpu": 0.1}),
		nodeSample("N1", 1, map[string]float64{"cpu": 100}),
	}
	got, err := NewAggregator(0, nil).Compute(context.Background(), samples, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, w := range DefaultWindows {
		assert.InDelta(t, 0.1, got[0].Values[WindowKey("cpu", AggMax, w)], 1e-9)
	}
}

func TestComputeMissingMetricStaysAbsent(t *testing.T) {
	samples := []models.MetricSample{
		nodeSample("N1", 0, map[string]float64{"cpu": 0.4, "mem": 0.3}),
		nodeSample("N1", 20, map[string]float64{"cpu": 0.5, "mem": math.NaN()}),
	}
	got, err := NewAggregator(0, nil).Compute(context.Background(), samples, []int{5, 30})
	require.NoError(t, err)
	require.Len(t, got, 2)

	v := got[1].Values
	assert.NotContains(t, v, "mem_current")
	assert.NotContains(t, v, "mem_mean_5m")
	assert.InDelta(t, 0.3, v["mem_mean_30m"], 1e-9)
	assert.InDelta(t, 0.25, v["cpu_change_30m"], 1e-9)
}

func TestComputeZeroFirstSkipsChange(t *testing.T) {
	samples := []models.MetricSample{
		nodeSample("N1", 0, map[string]float64{"pkt_err": 0}),
		nodeSample("N1", 1, map[string]float64{"pkt_err": 0.2}),
	}
	got, err := NewAggregator(0, nil).Compute(context.Background(), samples, []int{5})
	require.NoError(t, err)
	assert.NotContains(t, got[1].Values, "pkt_err_change_5m")
}

func TestComputeDuplicateTimestampsCollapse(t *testing.T) {
	samples := []models.MetricSample{
		nodeSample("N1", 0, map[string]float64{"cpu": 0.2}),
		nodeSample("N1", 0, map[string]float64{"cpu": 0.4}),
	}
	got, err := NewAggregator(0, nil).Compute(context.Background(), samples, []int{5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.4, got[0].Values["cpu_current"], 1e-9)
	assert.InDelta(t, 0.3, got[0].Values["cpu_mean_5m"], 1e-9)
}

func TestComputeEntityOrderAndSorting(t *testing.T) {
	samples := []models.MetricSample{
		{Timestamp: at(3), LinkID: "L1", Metrics: map[string]float64{"latency_ms": 12}},
		nodeSample("N2", 5, map[string]float64{"cpu": 0.1}),
		nodeSample("N1", 2, map[string]float64{"cpu": 0.3}),
		nodeSample("N2", 1, map[string]float64{"cpu": 0.2}),
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	got, err := NewAggregator(2, m).Compute(context.Background(), samples, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)

	var order []string
	for _, v := range got {
		order = append(order, string(v.EntityType)+":"+v.EntityID+"@"+v.Timestamp.Format("04"))
	}
	assert.Equal(t, []string{"node:N2@01", "node:N2@05", "node:N1@02", "link:L1@03"}, order)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FeatureVectorsTotal))
}

func TestComputeRejectsBadWindow(t *testing.T) {
	_, err := NewAggregator(0, nil).Compute(context.Background(), nil, []int{0})
	require.Error(t, err)
}

func TestComputeEmptyInput(t *testing.T) {
	got, err := NewAggregator(0, nil).Compute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestColumnsSortedUnion(t *testing.T) {
	cols := Columns([]models.FeatureVector{
		{Values: map[string]float64{"b": 1, "a": 2}},
		{Values: map[string]float64{"c": 1, "a": 2}},
	})
	assert.Equal(t, []string{"a", "b", "c"}, cols)
}
