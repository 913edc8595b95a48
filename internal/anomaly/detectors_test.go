package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netrisk/pkg/models"
)

func validRecord(ts string) models.LogRecord {
	return models.LogRecord{
		Timestamp:  ts,
		FirewallID: "FW-1",
		SrcIP:      "10.0.0.1",
		DstIP:      "10.0.0.2",
		SrcPort:    "51000",
		DstPort:    "443",
		Protocol:   "TCP",
		Action:     "ALLOW",
		Bytes:      "1200",
		DurationMS: "35",
		RuleID:     "R-10",
		Status:     "OK",
		SessionID:  "S-1",
		Reason:     "Normal traffic",
	}
}

func TestTimestampDetectorClassifiesAndImputes(t *testing.T) {
	corrupt := models.LogRecord{Index: 2, Timestamp: "garbage"}
	malformed := validRecord("not-a-date")
	malformed.Index = 1

	batch := []models.LogRecord{
		validRecord("2025-11-09T10:00:00Z"),
		malformed,
		corrupt,
	}

	got := TimestampDetector{}.Detect(batch)
	require.Len(t, got, 2)

	assert.Equal(t, models.DefectMalformedTimestamp, got[0].DefectID)
	require.NotNil(t, got[0].Timestamp)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2025, 11, 9, 10, 0, 1, 0, time.UTC)))

	assert.Equal(t, models.DefectCorruptLine, got[1].DefectID)
	assert.Nil(t, got[1].Timestamp, "previous row has no valid timestamp, nothing to impute from")
}

func TestTimestampDetectorImputesByRowIndexNotPosition(t *testing.T) {
	before := validRecord("2025-01-01T00:00:00Z")
	before.Index = 5
	gap := validRecord("garbage")
	gap.Index = 7
	adjacent := validRecord("garbage")
	adjacent.Index = 9
	anchor := validRecord("2025-01-01T00:10:00Z")
	anchor.Index = 8

	got := TimestampDetector{}.Detect([]models.LogRecord{before, gap, adjacent, anchor})
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Timestamp, "row 6 is not in the batch")
	require.NotNil(t, got[1].Timestamp)
	assert.True(t, got[1].Timestamp.Equal(time.Date(2025, 1, 1, 0, 10, 1, 0, time.UTC)))
}

func TestTimestampDetectorImputesFromPriorRows(t *testing.T) {
	prior := []models.LogRecord{{Index: 3, Timestamp: "2025-01-01T00:00:00Z"}}
	rec := validRecord("garbage")
	rec.Index = 4

	got := TimestampDetector{}.DetectAfter(prior, []models.LogRecord{rec})
	require.Len(t, got, 1, "prior rows are not reported")
	require.NotNil(t, got[0].Timestamp)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)))
}

func TestTimestampDetectorFirstRowStaysUnresolved(t *testing.T) {
	got := TimestampDetector{}.Detect([]models.LogRecord{validRecord("")})
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectMalformedTimestamp, got[0].DefectID)
	assert.Nil(t, got[0].Timestamp)
}

func TestCorruptLineIgnoresBlankExtraFields(t *testing.T) {
	rec := models.LogRecord{Timestamp: "??", Extra: map[string]string{"note": "  "}}
	got := TimestampDetector{}.Detect([]models.LogRecord{rec})
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectCorruptLine, got[0].DefectID)
}

func TestPortDetector(t *testing.T) {
	alpha := validRecord("2025-11-09T10:00:00Z")
	alpha.DstPort = "https"
	missing := validRecord("2025-11-09T10:00:00Z")
	missing.SrcPort = ""

	got := PortDetector{}.Detect([]models.LogRecord{validRecord("2025-11-09T10:00:00Z"), alpha, missing})
	require.Len(t, got, 2)
	for _, f := range got {
		assert.Equal(t, models.DefectNonNumericPort, f.DefectID)
	}
}

func TestBytesDetector(t *testing.T) {
	negative := validRecord("2025-11-09T10:00:00Z")
	negative.Bytes = "-5"
	text := validRecord("2025-11-09T10:00:00Z")
	text.Bytes = "lots"

	got := BytesDetector{}.Detect([]models.LogRecord{negative, text, validRecord("2025-11-09T10:00:00Z")})
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectNegativeBytes, got[0].DefectID)
}

func TestInvalidIPDetectorReportsRowOnce(t *testing.T) {
	both := validRecord("2025-11-09T10:00:00Z")
	both.SrcIP = DefaultInvalidIP
	both.DstIP = DefaultInvalidIP
	custom := validRecord("2025-11-09T10:00:00Z")
	custom.DstIP = "0.0.0.0"

	got := InvalidIPDetector{}.Detect([]models.LogRecord{both, custom})
	require.Len(t, got, 1)
	assert.Equal(t, DefaultInvalidIP, got[0].SrcIP)

	got = InvalidIPDetector{Sentinel: "0.0.0.0"}.Detect([]models.LogRecord{both, custom})
	require.Len(t, got, 1)
	assert.Equal(t, "0.0.0.0", got[0].DstIP)
}

func TestDuplicateFieldDetector(t *testing.T) {
	merged := validRecord("2025-11-09T10:00:00Z")
	merged.SessionID = "S-1|S-2"

	got := DuplicateFieldDetector{}.Detect([]models.LogRecord{merged, validRecord("2025-11-09T10:00:00Z")})
	require.Len(t, got, 1)
	assert.Equal(t, models.DefectDuplicateField, got[0].DefectID)
}

func TestMissingFieldDetector(t *testing.T) {
	for _, field := range RequiredFields {
		rec := validRecord("2025-11-09T10:00:00Z")
		rec.SetField(field, "")
		got := MissingFieldDetector{}.Detect([]models.LogRecord{rec})
		require.Len(t, got, 1, field)
		assert.Equal(t, models.DefectMissingField, got[0].DefectID)
	}
	assert.Empty(t, MissingFieldDetector{}.Detect([]models.LogRecord{validRecord("2025-11-09T10:00:00Z")}))
}

func TestThreatDetectorMapsExactReasons(t *testing.T) {
	var batch []models.LogRecord
	for reason := range ThreatReasons {
		rec := validRecord("2025-11-09T10:00:00Z")
		rec.Reason = reason
		batch = append(batch, rec)
	}
	near := validRecord("2025-11-09T10:00:00Z")
	near.Reason = "port scan detected"
	batch = append(batch, near)

	got := ThreatDetector{}.Detect(batch)
	require.Len(t, got, len(ThreatReasons))
	for i, f := range got {
		assert.Equal(t, ThreatReasons[batch[i].Reason], f.DefectID)
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	for _, raw := range []string{
		"2025-11-09T10:30:00Z",
		"2025-11-09T10:30:00.123456+02:00",
		"2025-11-09 10:30:00",
		"2025-11-09 10:30:00.5",
		"2025-11-09T10:30:00",
		"2025-11-09",
	} {
		_, ok := ParseTimestamp(raw)
		assert.True(t, ok, raw)
	}
	for _, raw := range []string{"", "  ", "yesterday", "2025-13-40 99:99:99"} {
		_, ok := ParseTimestamp(raw)
		assert.False(t, ok, raw)
	}
}
