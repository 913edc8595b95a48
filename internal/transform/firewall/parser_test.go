package firewall

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsValuesVerbatim(t *testing.T) {
	rec, err := Parse([]byte(`{"timestamp":"2025-11-09 10:00:00","firewall_id":"FW-1","src_port":51000,"bytes":-5,"duration_ms":1.50,"status":null,"geo":{"country":"FR"},"flag":true}`), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Index)
	assert.Equal(t, "2025-11-09 10:00:00", rec.Timestamp)
	assert.Equal(t, "51000", rec.SrcPort)
	assert.Equal(t, "-5", rec.Bytes)
	assert.Equal(t, "1.50", rec.DurationMS)
	assert.Empty(t, rec.Status)
	assert.Equal(t, "FR", rec.Extra["geo.country"])
	assert.Equal(t, "true", rec.Extra["flag"])
}

func TestParseAliases(t *testing.T) {
	rec, err := Parse([]byte(`{"@timestamp":"2025-11-09T10:00:00Z","source_ip":"10.0.0.1"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-09T10:00:00Z", rec.Timestamp)
	assert.Equal(t, "10.0.0.1", rec.SrcIP)
}

func TestParseCanonicalKeyBeatsAlias(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec, err := Parse([]byte(`{"ts":"2025-11-09T10:00:09Z","timestamp":"2025-11-09T10:00:00Z","src_ip":"10.0.0.1","source_ip":"10.0.0.9"}`), 0)
		require.NoError(t, err)
		require.Equal(t, "2025-11-09T10:00:00Z", rec.Timestamp)
		require.Equal(t, "2025-11-09T10:00:09Z", rec.Extra["ts"])
		require.Equal(t, "10.0.0.1", rec.SrcIP)
		require.Equal(t, "10.0.0.9", rec.Extra["source_ip"])
	}
}

func TestParseAliasFillsEmptyCanonical(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec, err := Parse([]byte(`{"timestamp":null,"ts":"2025-11-09T10:00:09Z","@timestamp":"2025-11-09T10:00:01Z"}`), 0)
		require.NoError(t, err)
		require.Equal(t, "2025-11-09T10:00:01Z", rec.Timestamp, "aliases apply in sorted key order")
		require.Equal(t, "2025-11-09T10:00:09Z", rec.Extra["ts"])
	}
}

func TestReadCSVCanonicalColumnBeatsAlias(t *testing.T) {
	in := "timestamp,ts,dest_ip\n2025-11-09 10:00:00,2025-11-09 10:00:09,10.0.0.2\n"
	recs, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2025-11-09 10:00:00", recs[0].Timestamp)
	assert.Equal(t, "2025-11-09 10:00:09", recs[0].Extra["ts"])
	assert.Equal(t, "10.0.0.2", recs[0].DstIP)
}

func TestParseLineTurnsGarbageIntoEmptyRecord(t *testing.T) {
	rec := ParseLine([]byte(`{"timestamp":`), 3)
	assert.Equal(t, 3, rec.Index)
	assert.False(t, rec.HasAnyBesides(""))
}

func TestReadJSONLSkipsBlankLines(t *testing.T) {
	in := "{\"src_ip\":\"a\"}\n\n   \nnot json\n{\"src_ip\":\"b\"}\n"
	recs, err := ReadJSONL(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].SrcIP)
	assert.Equal(t, 1, recs[1].Index)
	assert.Empty(t, recs[1].SrcIP)
	assert.Equal(t, "b", recs[2].SrcIP)
	assert.Equal(t, 2, recs[2].Index)
}

func TestReadCSVShortRowsAndExtras(t *testing.T) {
	in := "timestamp,src_ip,dst_port,zone\n" +
		"2025-11-09 10:00:00,10.0.0.1,443,dmz\n" +
		"2025-11-09 10:00:01,10.0.0.2\n"
	recs, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "443", recs[0].DstPort)
	assert.Equal(t, "dmz", recs[0].Extra["zone"])
	assert.Empty(t, recs[1].DstPort)
	assert.Equal(t, 1, recs[1].Index)
}

func TestReadFilePicksFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "logs.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("src_ip\n10.0.0.9\n"), 0644))
	recs, err := ReadFile(csvPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "10.0.0.9", recs[0].SrcIP)

	_, err = ReadFile(filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)
}
