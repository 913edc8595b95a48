package anomaly

import (
	"math"
	"strconv"
	"strings"
	"time"

	"netrisk/internal/transform/timefmt"
	"netrisk/pkg/models"
)

// DefaultInvalidIP is the sentinel address some firewalls emit for unparseable peers.
const DefaultInvalidIP = "999.999.999.999"

// Detector scans a batch for one defect or threat pattern. Implementations
// hold no mutable state and may run concurrently.
type Detector interface {
	Name() string
	Detect(batch []models.LogRecord) []models.AnomalyFinding
}

// PriorDetector is a Detector that also reads rows preceding the batch.
type PriorDetector interface {
	Detector
	DetectAfter(prior, batch []models.LogRecord) []models.AnomalyFinding
}

// DefaultDetectors returns the built-in detector set.
func DefaultDetectors(invalidIP string) []Detector {
	if strings.TrimSpace(invalidIP) == "" {
		invalidIP = DefaultInvalidIP
	}
	return []Detector{
		TimestampDetector{},
		PortDetector{},
		BytesDetector{},
		InvalidIPDetector{Sentinel: invalidIP},
		DuplicateFieldDetector{},
		MissingFieldDetector{},
		ThreatDetector{},
	}
}

// TimestampDetector reports rows whose timestamp does not parse.
type TimestampDetector struct{}

// Name returns the detector name.
func (TimestampDetector) Name() string { return "timestamp" }

// Detect flags unparseable timestamps. A row with nothing else in it is a
// corrupt line.
func (d TimestampDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	return d.DetectAfter(nil, batch)
}

// DetectAfter is Detect with rows that precede the batch. The reported time
// is imputed as the time of the row whose Index is one less, plus one second,
// when that row is in batch or prior and has a valid timestamp. Rows in prior
// are never reported.
func (TimestampDetector) DetectAfter(prior, batch []models.LogRecord) []models.AnomalyFinding {
	byIndex := make(map[int]string, len(prior)+len(batch))
	for i := range prior {
		byIndex[prior[i].Index] = prior[i].Timestamp
	}
	for i := range batch {
		byIndex[batch[i].Index] = batch[i].Timestamp
	}

	var out []models.AnomalyFinding
	for i := range batch {
		rec := &batch[i]
		if _, ok := ParseTimestamp(rec.Timestamp); ok {
			continue
		}

		defect := models.DefectCorruptLine
		if rec.HasAnyBesides(models.FieldTimestamp) {
			defect = models.DefectMalformedTimestamp
		}

		var ts *time.Time
		if raw, ok := byIndex[rec.Index-1]; ok {
			if prev, ok := ParseTimestamp(raw); ok {
				imputed := prev.Add(time.Second)
				ts = &imputed
			}
		}
		out = append(out, newFinding(rec, ts, defect))
	}
	return out
}

// PortDetector reports non-numeric source or destination ports.
type PortDetector struct{}

// Name returns the detector name.
func (PortDetector) Name() string { return "port" }

// Detect flags rows where either port is missing or not a number.
func (PortDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	return scan(batch, models.DefectNonNumericPort, func(rec *models.LogRecord) bool {
		_, srcOK := parseNumber(rec.SrcPort)
		_, dstOK := parseNumber(rec.DstPort)
		return !srcOK || !dstOK
	})
}

// BytesDetector reports negative byte counts.
type BytesDetector struct{}

// Name returns the detector name.
func (BytesDetector) Name() string { return "bytes" }

// Detect flags rows whose byte count is a negative number.
func (BytesDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	return scan(batch, models.DefectNegativeBytes, func(rec *models.LogRecord) bool {
		v, ok := parseNumber(rec.Bytes)
		return ok && v < 0
	})
}

// InvalidIPDetector reports rows carrying the sentinel invalid address.
type InvalidIPDetector struct {
	Sentinel string
}

// Name returns the detector name.
func (InvalidIPDetector) Name() string { return "invalid_ip" }

// Detect flags rows where either address equals the sentinel.
func (d InvalidIPDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	sentinel := d.Sentinel
	if sentinel == "" {
		sentinel = DefaultInvalidIP
	}
	return scan(batch, models.DefectInvalidIP, func(rec *models.LogRecord) bool {
		return rec.SrcIP == sentinel || rec.DstIP == sentinel
	})
}

// DuplicateFieldDetector reports session ids merged from two records.
type DuplicateFieldDetector struct{}

// Name returns the detector name.
func (DuplicateFieldDetector) Name() string { return "duplicate_field" }

// Detect flags session ids containing a pipe.
func (DuplicateFieldDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	return scan(batch, models.DefectDuplicateField, func(rec *models.LogRecord) bool {
		return strings.Contains(rec.SessionID, "|")
	})
}

// RequiredFields must be present on every well-formed row.
var RequiredFields = []string{
	models.FieldFirewallID, models.FieldSrcIP, models.FieldDstIP, models.FieldProtocol,
	models.FieldAction, models.FieldBytes, models.FieldDurationMS, models.FieldRuleID,
	models.FieldStatus, models.FieldSessionID, models.FieldReason,
}

// MissingFieldDetector reports rows lacking a required field.
type MissingFieldDetector struct{}

// Name returns the detector name.
func (MissingFieldDetector) Name() string { return "missing_field" }

// Detect flags rows where any required field is empty.
func (MissingFieldDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	return scan(batch, models.DefectMissingField, func(rec *models.LogRecord) bool {
		for _, field := range RequiredFields {
			if !rec.Has(field) {
				return true
			}
		}
		return false
	})
}

// ThreatReasons maps firewall reason strings to threat defect ids.
var ThreatReasons = map[string]string{
	"Potential DDoS - high rate":       models.DefectDDoS,
	"Port scan detected":               models.DefectPortScan,
	"Multiple auth failures":           models.DefectBruteForce,
	"XSS attempt":                      models.DefectXSS,
	"Known malicious domain contacted": models.DefectMalwareDownload,
	"Suspicious SQL payload":           models.DefectSQLInjection,
}

// ThreatDetector maps known reason strings to threat findings.
type ThreatDetector struct{}

// Name returns the detector name.
func (ThreatDetector) Name() string { return "threat" }

// Detect emits one finding per row whose reason matches exactly.
func (ThreatDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	var out []models.AnomalyFinding
	for i := range batch {
		rec := &batch[i]
		defect, ok := ThreatReasons[rec.Reason]
		if !ok {
			continue
		}
		out = append(out, newFinding(rec, rowTime(rec), defect))
	}
	return out
}

func scan(batch []models.LogRecord, defect string, match func(rec *models.LogRecord) bool) []models.AnomalyFinding {
	var out []models.AnomalyFinding
	for i := range batch {
		rec := &batch[i]
		if match(rec) {
			out = append(out, newFinding(rec, rowTime(rec), defect))
		}
	}
	return out
}

func newFinding(rec *models.LogRecord, ts *time.Time, defect string) models.AnomalyFinding {
	return models.AnomalyFinding{
		Timestamp:  ts,
		FirewallID: rec.FirewallID,
		SrcIP:      rec.SrcIP,
		DstIP:      rec.DstIP,
		Protocol:   rec.Protocol,
		Action:     rec.Action,
		DefectID:   defect,
	}
}

func rowTime(rec *models.LogRecord) *time.Time {
	t, ok := ParseTimestamp(rec.Timestamp)
	if !ok {
		return nil
	}
	return &t
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ParseTimestamp parses a raw log timestamp.
func ParseTimestamp(raw string) (time.Time, bool) {
	return timefmt.Parse(raw)
}
