package models

import (
	"strconv"
	"strings"
	"time"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityLow     Severity = "Low"
	SeverityMedium  Severity = "Medium"
	SeverityHigh    Severity = "High"
	SeverityUnknown Severity = "Unknown"
)

// Category separates log defects from attack signals.
type Category string

const (
	CategoryBug     Category = "Bug"
	CategoryAttack  Category = "Attack"
	CategoryUnknown Category = "Unknown"
)

// Defect identifiers emitted by the built-in detectors.
const (
	DefectCorruptLine        = "corrupt_line"
	DefectMalformedTimestamp = "malformed_timestamp"
	DefectNonNumericPort     = "nonnumeric_port"
	DefectNegativeBytes      = "negative_bytes"
	DefectInvalidIP          = "invalid_ip"
	DefectDuplicateField     = "duplicate_field"
	DefectMissingField       = "missing_field"
	DefectDDoS               = "ddos"
	DefectPortScan           = "port_scan"
	DefectBruteForce         = "brut_force"
	DefectXSS                = "xss"
	DefectMalwareDownload    = "malware_download"
	DefectSQLInjection       = "sql_injection"
)

// AnomalyFinding is one classified defect or threat derived from a log row.
// Timestamp is nil when the row time could not be parsed or imputed.
type AnomalyFinding struct {
	Timestamp  *time.Time `json:"timestamp"`
	FirewallID string     `json:"firewall_id"`
	SrcIP      string     `json:"src_ip"`
	DstIP      string     `json:"dst_ip"`
	Protocol   string     `json:"protocol"`
	Action     string     `json:"action"`
	DefectID   string     `json:"defect_id"`
	Severity   Severity   `json:"severity"`
	Category   Category   `json:"category"`
}

// DedupeKey identifies a finding by time, flow tuple and defect.
func (f *AnomalyFinding) DedupeKey() string {
	ts := "-"
	if f.Timestamp != nil {
		ts = strconv.FormatInt(f.Timestamp.UnixNano(), 10)
	}
	return strings.Join([]string{ts, f.FirewallID, f.SrcIP, f.DstIP, f.Protocol, f.Action, f.DefectID}, "\x1f")
}
