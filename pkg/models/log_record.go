package models

import "strings"

// Canonical firewall log field names.
const (
	FieldTimestamp  = "timestamp"
	FieldFirewallID = "firewall_id"
	FieldSrcIP      = "src_ip"
	FieldDstIP      = "dst_ip"
	FieldSrcPort    = "src_port"
	FieldDstPort    = "dst_port"
	FieldProtocol   = "protocol"
	FieldAction     = "action"
	FieldBytes      = "bytes"
	FieldDurationMS = "duration_ms"
	FieldRuleID     = "rule_id"
	FieldStatus     = "status"
	FieldSessionID  = "session_id"
	FieldReason     = "reason"
)

// LogFields lists the known columns in input order.
var LogFields = []string{
	FieldTimestamp, FieldFirewallID, FieldSrcIP, FieldDstIP, FieldSrcPort, FieldDstPort,
	FieldProtocol, FieldAction, FieldBytes, FieldDurationMS, FieldRuleID, FieldStatus,
	FieldSessionID, FieldReason,
}

// LogRecord is one raw firewall event row. Values are kept verbatim; an empty
// string means the field was absent or null in the source row.
type LogRecord struct {
	Index      int               `json:"index"`
	Timestamp  string            `json:"timestamp,omitempty"`
	FirewallID string            `json:"firewall_id,omitempty"`
	SrcIP      string            `json:"src_ip,omitempty"`
	DstIP      string            `json:"dst_ip,omitempty"`
	SrcPort    string            `json:"src_port,omitempty"`
	DstPort    string            `json:"dst_port,omitempty"`
	Protocol   string            `json:"protocol,omitempty"`
	Action     string            `json:"action,omitempty"`
	Bytes      string            `json:"bytes,omitempty"`
	DurationMS string            `json:"duration_ms,omitempty"`
	RuleID     string            `json:"rule_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Field returns a field value by name, including extra fields.
func (r *LogRecord) Field(name string) string {
	if r == nil {
		return ""
	}
	switch name {
	case FieldTimestamp:
		return r.Timestamp
	case FieldFirewallID:
		return r.FirewallID
	case FieldSrcIP:
		return r.SrcIP
	case FieldDstIP:
		return r.DstIP
	case FieldSrcPort:
		return r.SrcPort
	case FieldDstPort:
		return r.DstPort
	case FieldProtocol:
		return r.Protocol
	case FieldAction:
		return r.Action
	case FieldBytes:
		return r.Bytes
	case FieldDurationMS:
		return r.DurationMS
	case FieldRuleID:
		return r.RuleID
	case FieldStatus:
		return r.Status
	case FieldSessionID:
		return r.SessionID
	case FieldReason:
		return r.Reason
	}
	return r.Extra[name]
}

// SetField assigns a field by name. Unknown names land in Extra.
func (r *LogRecord) SetField(name, value string) {
	switch name {
	case FieldTimestamp:
		r.Timestamp = value
	case FieldFirewallID:
		r.FirewallID = value
	case FieldSrcIP:
		r.SrcIP = value
	case FieldDstIP:
		r.DstIP = value
	case FieldSrcPort:
		r.SrcPort = value
	case FieldDstPort:
		r.DstPort = value
	case FieldProtocol:
		r.Protocol = value
	case FieldAction:
		r.Action = value
	case FieldBytes:
		r.Bytes = value
	case FieldDurationMS:
		r.DurationMS = value
	case FieldRuleID:
		r.RuleID = value
	case FieldStatus:
		r.Status = value
	case FieldSessionID:
		r.SessionID = value
	case FieldReason:
		r.Reason = value
	default:
		if value == "" {
			return
		}
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[name] = value
	}
}

// Has reports whether a field carries a value.
func (r *LogRecord) Has(name string) bool {
	return r.Field(name) != ""
}

// HasAnyBesides reports whether any field other than the excluded one is set.
func (r *LogRecord) HasAnyBesides(excluded string) bool {
	for _, name := range LogFields {
		if name != excluded && r.Has(name) {
			return true
		}
	}
	for name, v := range r.Extra {
		if name != excluded && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
