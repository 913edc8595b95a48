package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netrisk/internal/metrics"
	"netrisk/internal/rules"
	"netrisk/pkg/models"
)

type stubEngine struct{}

func (stubEngine) Apply(rec *models.LogRecord) []rules.Match {
	if rec.DstPort == "23" {
		return []rules.Match{{ID: "telnet_egress", Severity: "high"}}
	}
	return nil
}

func (stubEngine) Labels() []rules.Match {
	return []rules.Match{{ID: "telnet_egress", Severity: "high"}}
}

func TestPipelineNegativeBytesScenario(t *testing.T) {
	rec := validRecord("2025-11-09T10:00:00Z")
	rec.Bytes = "-5"

	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{rec})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectNegativeBytes, got[0].DefectID)
	assert.Equal(t, models.SeverityMedium, got[0].Severity)
	assert.Equal(t, models.CategoryBug, got[0].Category)
}

func TestPipelineDDoSScenario(t *testing.T) {
	rec := validRecord("2025-11-09T10:00:00Z")
	rec.Reason = "Potential DDoS - high rate"

	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{rec})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectDDoS, got[0].DefectID)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
	assert.Equal(t, models.CategoryAttack, got[0].Category)
}

func TestPipelineEmptyResultIsNotNil(t *testing.T) {
	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{validRecord("2025-11-09T10:00:00Z")})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got, err = NewPipeline(Config{}).Run(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestPipelineRowMatchingSeveralDetectors(t *testing.T) {
	rec := validRecord("2025-11-09T10:00:00Z")
	rec.Bytes = "-1"
	rec.SessionID = "A|B"
	rec.Reason = "XSS attempt"

	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{rec})
	require.NoError(t, err)

	var ids []string
	for _, f := range got {
		ids = append(ids, f.DefectID)
	}
	assert.Equal(t, []string{models.DefectNegativeBytes, models.DefectDuplicateField, models.DefectXSS}, ids)
}

func TestPipelineDeduplicatesIdenticalFindings(t *testing.T) {
	rec := validRecord("2025-11-09T10:00:00Z")
	rec.Reason = "Port scan detected"

	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{rec, rec, rec})
	require.NoError(t, err)
	require.Len(t, got, 1)

	seen := map[string]bool{}
	for _, f := range got {
		key := f.DedupeKey()
		assert.False(t, seen[key])
		seen[key] = true
	}
}

func TestPipelineSortsUnresolvedFirstThenByTime(t *testing.T) {
	late := validRecord("2025-11-09T12:00:00Z")
	late.Bytes = "-1"
	early := validRecord("2025-11-09T08:00:00Z")
	early.Bytes = "-2"
	early.SrcIP = "10.9.9.9"
	broken := validRecord("bad")

	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{broken, late, early})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Nil(t, got[0].Timestamp)
	assert.Equal(t, models.DefectMalformedTimestamp, got[0].DefectID)
	assert.True(t, got[1].Timestamp.Equal(time.Date(2025, 11, 9, 8, 0, 0, 0, time.UTC)))
	assert.True(t, got[2].Timestamp.Equal(time.Date(2025, 11, 9, 12, 0, 0, 0, time.UTC)))
}

func TestPipelineImputedTimestampSortsWithValidRows(t *testing.T) {
	first := validRecord("2025-11-09T10:00:00Z")
	first.Reason = "XSS attempt"
	broken := validRecord("broken")
	broken.Index = 1

	got, err := NewPipeline(Config{}).Run(context.Background(), []models.LogRecord{first, broken})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.DefectXSS, got[0].DefectID)
	assert.Equal(t, models.DefectMalformedTimestamp, got[1].DefectID)
	assert.True(t, got[1].Timestamp.Equal(time.Date(2025, 11, 9, 10, 0, 1, 0, time.UTC)))
}

func TestPipelineRunAfterUsesPriorRows(t *testing.T) {
	prior := []models.LogRecord{{Index: 41, Timestamp: "2025-11-09T10:00:00Z", Bytes: "-9"}}
	broken := validRecord("broken")
	broken.Index = 42

	got, err := NewPipeline(Config{}).RunAfter(context.Background(), prior, []models.LogRecord{broken})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectMalformedTimestamp, got[0].DefectID)
	require.NotNil(t, got[0].Timestamp)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2025, 11, 9, 10, 0, 1, 0, time.UTC)))
}

func TestPipelineRulesExtendTaxonomy(t *testing.T) {
	rec := validRecord("2025-11-09T10:00:00Z")
	rec.DstPort = "23"

	p := NewPipeline(Config{Rules: stubEngine{}, Workers: 2})
	assert.Contains(t, p.Detectors(), "rules")

	got, err := p.Run(context.Background(), []models.LogRecord{rec})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "telnet_egress", got[0].DefectID)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
	assert.Equal(t, models.CategoryAttack, got[0].Category)
}

func TestPipelineRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rec := validRecord("2025-11-09T10:00:00Z")
	rec.Reason = "Suspicious SQL payload"

	_, err := NewPipeline(Config{Metrics: m}).Run(context.Background(), []models.LogRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FindingsTotal.WithLabelValues("sql_injection", "High", "Attack")))
}

func TestPipelineHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPipeline(Config{}).Run(ctx, []models.LogRecord{validRecord("x")})
	require.ErrorIs(t, err, context.Canceled)
}
