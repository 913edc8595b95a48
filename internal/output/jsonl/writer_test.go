package jsonl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netrisk/pkg/models"
)

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "findings.jsonl")
	w, err := NewWriter[models.AnomalyFinding](path)
	require.NoError(t, err)

	ts := time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC)
	in := []models.AnomalyFinding{
		{Timestamp: &ts, SrcIP: "10.0.0.1", DefectID: "xss", Severity: models.SeverityMedium, Category: models.CategoryAttack},
		{DefectID: "corrupt_line", Severity: models.SeverityHigh, Category: models.CategoryBug},
	}
	require.NoError(t, w.Write(in[:1]))
	require.NoError(t, w.Write(in[1:]))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	out, err := ReadFile[models.AnomalyFinding](path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Timestamp.Equal(ts))
	assert.Nil(t, out[1].Timestamp)
	assert.Equal(t, "corrupt_line", out[1].DefectID)
}

func TestRawMessagesPassThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.jsonl")
	w, err := NewWriter[json.RawMessage](path)
	require.NoError(t, err)
	require.NoError(t, w.Write([]json.RawMessage{json.RawMessage(`{"src_ip":"a<b"}`)}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"src_ip\":\"a<b\"}\n", string(data))
}

func TestReadReportsLine(t *testing.T) {
	_, err := Read[models.FeatureVector](strings.NewReader("{\"entity_id\":\"N1\"}\n\n{bad\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}
