package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSample(t *testing.T) {
	s, err := Parse([]byte(`{"ts":"2025-11-09T10:05:00Z","node_id":"N1","cpu":0.92,"mem":"0.5","label":"core","latency_ms":null}`))
	require.NoError(t, err)
	assert.True(t, s.Timestamp.Equal(time.Date(2025, 11, 9, 10, 5, 0, 0, time.UTC)))
	assert.Equal(t, "N1", s.NodeID)
	assert.Empty(t, s.LinkID)
	assert.Equal(t, map[string]float64{"cpu": 0.92, "mem": 0.5}, s.Metrics)
}

func TestParseAcceptsTimestampKey(t *testing.T) {
	s, err := Parse([]byte(`{"timestamp":"2025-11-09 10:05:00","link_id":"L1","latency_ms":12}`))
	require.NoError(t, err)
	assert.Equal(t, "L1", s.LinkID)
	assert.Equal(t, 12.0, s.Metrics["latency_ms"])
}

func TestParseRequiresTimestamp(t *testing.T) {
	_, err := Parse([]byte(`{"node_id":"N1","cpu":0.1}`))
	require.ErrorIs(t, err, ErrNoTimestamp)
}

func TestReadJSONLSkipsBadLines(t *testing.T) {
	in := `{"ts":"2025-11-09T10:00:00Z","node_id":"N1","cpu":0.1}
oops
{"node_id":"N1","cpu":0.2}

{"ts":"2025-11-09T10:01:00Z","node_id":"N1","cpu":0.3}
`
	got, err := ReadJSONL(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.3, got[1].Metrics["cpu"])
}

func TestReadCSV(t *testing.T) {
	in := "ts,node_id,link_id,cpu,latency_ms\n" +
		"2025-11-09 10:00:00,N1,,0.4,\n" +
		"2025-11-09 10:00:00,,L1,,15\n" +
		"bad,N1,,0.5,\n"
	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]float64{"cpu": 0.4}, got[0].Metrics)
	assert.Equal(t, "L1", got[1].LinkID)
	assert.Equal(t, map[string]float64{"latency_ms": 15}, got[1].Metrics)
}
